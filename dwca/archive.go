// Package dwca opens Darwin Core archives uploaded for publication.
//
// Only what the gateway needs is read: the core descriptor from meta.xml, the
// descriptive metadata from the EML document and, for previews, selected
// columns of the core data file. Validation of the content is delegated to
// the validator package.
package dwca

import (
	"archive/zip"
	"encoding/csv"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const (
	termsNamespace = "http://rs.tdwg.org/dwc/terms/"

	RowTypeOccurrence = termsNamespace + "Occurrence"
	RowTypeEvent      = termsNamespace + "Event"

	descriptorName = "meta.xml"
	defaultEMLName = "eml.xml"
)

// SupportedCoreTypes are the core row types accepted for publication.
var SupportedCoreTypes = map[string]bool{
	RowTypeOccurrence: true,
	RowTypeEvent:      true,
}

var (
	ErrNotArchive        = errors.New("file is not a zip archive")
	ErrMissingDescriptor = errors.New("meta.xml not found in archive")
	ErrBadDescriptor     = errors.New("meta.xml is badly formed")
)

// Archive is an opened Darwin Core archive backed by a scratch file.
type Archive struct {
	// CoreType is the qualified row type of the core file.
	CoreType string

	// CoreFile is the location of the core data file inside the archive.
	CoreFile string

	// Metadata extracted from the EML document, nil when there is none.
	Metadata *Metadata

	fs   afero.Fs
	path string
	zr   *zip.Reader
	core coreDescriptor
}

type coreDescriptor struct {
	delimiter   rune
	headerLines int
	fields      map[string]int // Local term name -> column index.
}

// DatasetType returns the local name of the core row type, e.g. "Occurrence".
func (a *Archive) DatasetType() string {
	return path.Base(a.CoreType)
}

// HasMetadata reports whether the archive carries an EML document.
func (a *Archive) HasMetadata() bool {
	return a.Metadata != nil
}

// Path returns the location of the archive in its filesystem.
func (a *Archive) Path() string {
	return a.path
}

// Open returns a reader for the raw archive. The caller must close it.
func (a *Archive) Open() (afero.File, error) {
	return a.fs.Open(a.path)
}

// CoreValues returns, for each data row of the core file, the values of the
// given terms (local names such as "decimalLatitude"). Missing terms yield
// empty values. The second return value reports whether all the terms are
// described in meta.xml.
func (a *Archive) CoreValues(terms ...string) ([][]string, bool, error) {
	indexes := make([]int, len(terms))
	complete := true
	for i, term := range terms {
		idx, ok := a.core.fields[term]
		if !ok {
			idx = -1
			complete = false
		}
		indexes[i] = idx
	}

	zf := findFile(a.zr, a.CoreFile)
	if zf == nil {
		return nil, complete, errors.Errorf("core file %s not found in archive", a.CoreFile)
	}
	f, err := zf.Open()
	if err != nil {
		return nil, complete, errors.Wrapf(err, "cannot open core file %s", a.CoreFile)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = a.core.delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for line := 0; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, complete, errors.Wrapf(err, "cannot read core file %s", a.CoreFile)
		}
		if line < a.core.headerLines {
			continue
		}
		row := make([]string, len(indexes))
		for i, idx := range indexes {
			if idx >= 0 && idx < len(rec) {
				row[i] = strings.TrimSpace(rec[idx])
			}
		}
		rows = append(rows, row)
	}
	return rows, complete, nil
}

// readArchive parses the archive held in f.
func readArchive(fs afero.Fs, name string, f io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return nil, errors.Wrap(ErrNotArchive, err.Error())
	}

	a := &Archive{fs: fs, path: name, zr: zr}

	meta, err := readXML(zr, descriptorName)
	if err == errFileNotFound {
		return nil, ErrMissingDescriptor
	}
	if err != nil {
		return nil, errors.Wrap(ErrBadDescriptor, err.Error())
	}

	root := meta.Root()
	if root == nil {
		return nil, ErrBadDescriptor
	}
	core := root.SelectElement("core")
	if core == nil {
		return nil, errors.Wrap(ErrBadDescriptor, "core element not found")
	}
	a.CoreType = strings.TrimSpace(core.SelectAttrValue("rowType", ""))
	if a.CoreType == "" {
		return nil, errors.Wrap(ErrBadDescriptor, "core rowType is missing")
	}
	location := core.FindElement("./files/location")
	if location == nil || strings.TrimSpace(location.Text()) == "" {
		return nil, errors.Wrap(ErrBadDescriptor, "core file location is missing")
	}
	a.CoreFile = strings.TrimSpace(location.Text())
	if a.core, err = parseCoreDescriptor(core); err != nil {
		return nil, errors.Wrap(ErrBadDescriptor, err.Error())
	}

	emlName := strings.TrimSpace(root.SelectAttrValue("metadata", ""))
	if emlName == "" {
		emlName = defaultEMLName
	}
	eml, err := readXML(zr, emlName)
	switch {
	case err == errFileNotFound:
	case err != nil:
		return nil, errors.Wrapf(err, "cannot parse metadata document %s", emlName)
	default:
		md := ExtractMetadata(eml)
		a.Metadata = &md
	}

	return a, nil
}

func parseCoreDescriptor(core *etree.Element) (coreDescriptor, error) {
	d := coreDescriptor{
		delimiter: ',',
		fields:    map[string]int{},
	}

	if v := core.SelectAttrValue("fieldsTerminatedBy", ""); v != "" {
		v = strings.NewReplacer(`\t`, "\t", `\n`, "\n").Replace(v)
		d.delimiter = []rune(v)[0]
	}
	if v := core.SelectAttrValue("ignoreHeaderLines", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return d, errors.Errorf("ignoreHeaderLines %q is not a number", v)
		}
		d.headerLines = n
	}
	for _, field := range core.SelectElements("field") {
		idx := field.SelectAttrValue("index", "")
		if idx == "" {
			continue // Constant value field.
		}
		n, err := strconv.Atoi(idx)
		if err != nil {
			return d, errors.Errorf("field index %q is not a number", idx)
		}
		d.fields[path.Base(field.SelectAttrValue("term", ""))] = n
	}
	return d, nil
}

var errFileNotFound = errors.New("file not found")

func readXML(zr *zip.Reader, name string) (*etree.Document, error) {
	f := findFile(zr, name)
	if f == nil {
		return nil, errFileNotFound
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(rc); err != nil {
		return nil, err
	}
	return doc, nil
}

// findFile looks up name at the top of the archive or, for archives zipped
// with their enclosing directory, one level down.
func findFile(zr *zip.Reader, name string) *zip.File {
	var nested *zip.File
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
		if nested == nil && path.Base(f.Name) == name && strings.Count(f.Name, "/") == 1 {
			nested = f
		}
	}
	return nested
}
