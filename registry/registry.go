// Package registry is a client of the dataset registry (the collectory data
// resource web service).
package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/biodiversity-data/publishing-gateway/internal/restclient"
)

// ErrNotFound is returned when the registry does not know a data resource.
var ErrNotFound = errors.New("data resource not found")

// Record is a data resource as stored by the registry.
type Record struct {
	UID                       string `json:"uid,omitempty"`
	Name                      string `json:"name"`
	LicenseType               string `json:"licenseType,omitempty"`
	LicenseVersion            string `json:"licenseVersion,omitempty"`
	PubDescription            string `json:"pubDescription,omitempty"`
	Citation                  string `json:"citation,omitempty"`
	Rights                    string `json:"rights,omitempty"`
	Purpose                   string `json:"purpose,omitempty"`
	MethodStepDescription     string `json:"methodStepDescription,omitempty"`
	QualityControlDescription string `json:"qualityControlDescription,omitempty"`
	ConnectionParameters      string `json:"connectionParameters,omitempty"`
	CreatedByID               string `json:"createdByID,omitempty"`
}

// MarshalJSON sends empty optional descriptive fields as null so that a
// republication clears the values of the previous one.
func (r Record) MarshalJSON() ([]byte, error) {
	type record Record
	return json.Marshal(struct {
		record
		Citation                  *string `json:"citation"`
		Rights                    *string `json:"rights"`
		Purpose                   *string `json:"purpose"`
		MethodStepDescription     *string `json:"methodStepDescription"`
		QualityControlDescription *string `json:"qualityControlDescription"`
	}{
		record:                    record(r),
		Citation:                  nullable(r.Citation),
		Rights:                    nullable(r.Rights),
		Purpose:                   nullable(r.Purpose),
		MethodStepDescription:     nullable(r.MethodStepDescription),
		QualityControlDescription: nullable(r.QualityControlDescription),
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ConnectionParameters tell the ingest pipeline where to find the archive.
// The registry stores them as a JSON document inside a string field.
type ConnectionParameters struct {
	TermsForUniqueKey []string `json:"termsForUniqueKey"`
	Protocol          string   `json:"protocol"`
	URL               string   `json:"url"`
}

// DwCAConnection returns the parameters of a Darwin Core archive stored at
// location, keyed by occurrenceID.
func DwCAConnection(location string) ConnectionParameters {
	return ConnectionParameters{
		TermsForUniqueKey: []string{"occurrenceID"},
		Protocol:          "DwCA",
		URL:               location,
	}
}

// String returns the encoded form stored by the registry.
func (p ConnectionParameters) String() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// Client of the data resource web service at a base URL such as
// https://collections.example.org/ws/dataResource.
type Client struct {
	rc *restclient.Client
}

func New(baseURL, apiKey, userAgent string, opts ...restclient.Option) (*Client, error) {
	opts = append([]restclient.Option{restclient.WithHeader("apikey", apiKey)}, opts...)
	rc, err := restclient.New(baseURL, userAgent, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{rc: rc}, nil
}

// Lookup returns the data resource identified by uid.
func (c *Client) Lookup(ctx context.Context, uid string) (*Record, error) {
	resp, err := c.rc.Do(ctx, restclient.Request{
		Method: http.MethodGet,
		Path:   url.PathEscape(uid),
		Retry:  true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "lookup failed")
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_ = restclient.Decode(resp, nil)
		return nil, ErrNotFound
	default:
		return nil, errors.Wrap(restclient.UnexpectedStatus(resp), "lookup failed")
	}

	record := &Record{}
	if err := restclient.Decode(resp, record); err != nil {
		return nil, err
	}
	if record.UID == "" {
		record.UID = uid
	}
	return record, nil
}

// Search returns the data resources created by createdByID with the given
// name.
func (c *Client) Search(ctx context.Context, createdByID, name string) ([]Record, error) {
	resp, err := c.rc.Do(ctx, restclient.Request{
		Method: http.MethodGet,
		Query:  url.Values{"createdByID": {createdByID}, "name": {name}},
		Retry:  true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrap(restclient.UnexpectedStatus(resp), "search failed")
	}

	var records []Record
	if err := restclient.Decode(resp, &records); err != nil {
		return nil, err
	}

	// The service matches loosely; keep exact matches only. Records without
	// a creator belong to nobody and are never matched.
	matches := records[:0]
	for _, r := range records {
		if r.Name == name && r.CreatedByID == createdByID {
			matches = append(matches, r)
		}
	}
	return matches, nil
}

// Create registers a new data resource and returns its uid, read from the
// Location header of the response.
func (c *Client) Create(ctx context.Context, record *Record) (string, error) {
	payload := *record
	payload.UID = ""
	resp, err := c.rc.Do(ctx, restclient.Request{
		Method:  http.MethodPost,
		Payload: &payload,
	})
	if err != nil {
		return "", errors.Wrap(err, "create failed")
	}
	if resp.StatusCode != http.StatusCreated {
		return "", errors.Wrap(restclient.UnexpectedStatus(resp), "create failed")
	}
	_ = restclient.Decode(resp, nil)

	uid := uidFromLocation(resp.Header.Get("Location"))
	if uid == "" {
		return "", errors.New("create failed: registry did not return a location")
	}
	return uid, nil
}

// Update replaces the fields of the data resource identified by uid.
func (c *Client) Update(ctx context.Context, uid string, record *Record) error {
	payload := *record
	payload.UID = uid
	return c.update(ctx, uid, &payload)
}

// UpdateConnectionParameters points the data resource at a new archive.
func (c *Client) UpdateConnectionParameters(ctx context.Context, uid string, params ConnectionParameters) error {
	payload := map[string]string{"connectionParameters": params.String()}
	return c.update(ctx, uid, payload)
}

func (c *Client) update(ctx context.Context, uid string, payload interface{}) error {
	resp, err := c.rc.Do(ctx, restclient.Request{
		Method:  http.MethodPost,
		Path:    url.PathEscape(uid),
		Payload: payload,
	})
	if err != nil {
		return errors.Wrap(err, "update failed")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return restclient.Decode(resp, nil)
	case http.StatusNotFound:
		_ = restclient.Decode(resp, nil)
		return ErrNotFound
	default:
		return errors.Wrap(restclient.UnexpectedStatus(resp), "update failed")
	}
}

func uidFromLocation(location string) string {
	location = strings.TrimRight(strings.TrimSpace(location), "/")
	if location == "" {
		return ""
	}
	if u, err := url.Parse(location); err == nil {
		location = u.Path
	}
	uid := path.Base(location)
	if uid == "." || uid == "/" {
		return ""
	}
	return uid
}
