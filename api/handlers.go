package api

import (
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/biodiversity-data/publishing-gateway/auth"
	"github.com/biodiversity-data/publishing-gateway/dwca"
	"github.com/biodiversity-data/publishing-gateway/gateway"
	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"
)

// multipartMemory is how much of a multipart body is kept in memory, the
// rest is spooled to temporary files by net/http.
const multipartMemory = 32 << 20

// publishForm is the form submitted to /publish after a successful
// validation.
type publishForm struct {
	dwca.Metadata
	TempPath  string `schema:"tempPath"`
	RequestID string `schema:"requestID"`
}

func (h *handler) validate(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	up, err := h.readUpload(w, r, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.gateway.Validate(r.Context(), up)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) process(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	up, err := h.readUpload(w, r, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.gateway.Process(r.Context(), up, chi.URLParam(r, "dataResourceUid"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Rejected != nil {
		writeJSON(w, http.StatusOK, res.Rejected)
		return
	}
	writeJSON(w, http.StatusOK, res.Published)
}

func (h *handler) publish(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	form, err := h.readPublishForm(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.gateway.Publish(r.Context(), &gateway.PublishRequest{
		Metadata:        form.Metadata,
		DataResourceUID: chi.URLParam(r, "dataResourceUid"),
		Reference:       form.RequestID,
		Artifact:        gateway.StagedArtifact{TempPath: form.TempPath},
		Identity:        id,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) unpublish(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.gateway.Unpublish(r.Context(), chi.URLParam(r, "dataResourceUid"), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.gateway.Status(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, r, gErrors.New(gErrors.MissingRequiredField, "Invalid limit %q, a positive number is required", v))
			return
		}
		limit = n
	}
	events, err := h.gateway.Events(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) licences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gateway.Licences().Map())
}

func (h *handler) errorCodes(w http.ResponseWriter, r *http.Request) {
	kinds := gErrors.Kinds()
	codes := make([]string, 0, len(kinds))
	for _, k := range kinds {
		codes = append(codes, k.String())
	}
	writeJSON(w, http.StatusOK, codes)
}

// readUpload reads the archive sent in the "file" part of a multipart body.
func (h *handler) readUpload(w http.ResponseWriter, r *http.Request, id *auth.Identity) (*gateway.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if err == http.ErrNotMultipart {
			return nil, gErrors.New(gErrors.MissingFile, "Missing file in HTTP POST")
		}
		return nil, gErrors.NewWithError(gErrors.UploadError, errors.Wrap(err, "Problem with the submitted file upload"))
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return nil, gErrors.New(gErrors.MissingFile, "Missing file in HTTP POST")
	}
	if err != nil {
		return nil, gErrors.NewWithError(gErrors.UploadError, errors.Wrap(err, "Problem with the submitted file upload"))
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, gErrors.NewWithError(gErrors.UploadError, errors.Wrap(err, "Problem with the submitted file upload"))
	}
	return &gateway.Upload{FileName: header.Filename, Data: data, Identity: id}, nil
}

// readPublishForm decodes a urlencoded or multipart publication form.
func (h *handler) readPublishForm(w http.ResponseWriter, r *http.Request) (*publishForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	err := r.ParseMultipartForm(multipartMemory)
	if err == http.ErrNotMultipart {
		err = r.ParseForm()
	}
	if err != nil {
		return nil, gErrors.NewWithError(gErrors.MissingRequiredField, errors.Wrap(err, "Invalid publication form"))
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	form := &publishForm{}
	if err := h.decoder.Decode(form, r.PostForm); err != nil {
		return nil, gErrors.NewWithError(gErrors.MissingRequiredField, errors.Wrap(err, "Invalid publication form"))
	}
	return form, nil
}
