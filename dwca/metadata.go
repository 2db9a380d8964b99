package dwca

import (
	"strings"

	"github.com/beevik/etree"
)

// Metadata is the descriptive metadata of a dataset, either extracted from
// the EML document of an archive or supplied by the publisher. Empty fields
// are absent.
type Metadata struct {
	Name                      string `json:"name" schema:"name"`
	LicenceURL                string `json:"licenceUrl" schema:"licenceUrl"`
	Description               string `json:"pubDescription" schema:"pubDescription"`
	Citation                  string `json:"citation" schema:"citation"`
	Rights                    string `json:"rights" schema:"rights"`
	Purpose                   string `json:"purpose" schema:"purpose"`
	MethodStepDescription     string `json:"methodStepDescription" schema:"methodStepDescription"`
	QualityControlDescription string `json:"qualityControlDescription" schema:"qualityControlDescription"`
}

// MissingFields returns the names of the mandatory fields that are empty.
func (m Metadata) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(m.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(m.LicenceURL) == "" {
		missing = append(missing, "licenceUrl")
	}
	if strings.TrimSpace(m.Description) == "" {
		missing = append(missing, "pubDescription")
	}
	return missing
}

// EML element paths. Paths are searched from the document root so the
// namespace-prefixed eml:eml element does not need to be named.
const (
	pathTitle          = "//dataset/title"
	pathAbstract       = "//dataset/abstract/para"
	pathLicenceLink    = "//dataset/intellectualRights/para/ulink"
	pathCitation       = "//additionalMetadata/metadata/gbif/citation"
	pathRights         = "//dataset/intellectualRights/para"
	pathPurpose        = "//dataset/purpose/para"
	pathMethodStep     = "//dataset/methods/methodStep/description/para"
	pathQualityControl = "//dataset/methods/qualityControl/description/para"
)

// ExtractMetadata reads the descriptive fields from an EML document. A path
// that resolves to nothing leaves its field empty.
func ExtractMetadata(doc *etree.Document) Metadata {
	return Metadata{
		Name:                      elementText(doc, pathTitle),
		Description:               elementText(doc, pathAbstract),
		LicenceURL:                elementAttr(doc, pathLicenceLink, "url"),
		Citation:                  elementText(doc, pathCitation),
		Rights:                    elementText(doc, pathRights),
		Purpose:                   elementText(doc, pathPurpose),
		MethodStepDescription:     elementText(doc, pathMethodStep),
		QualityControlDescription: elementText(doc, pathQualityControl),
	}
}

func elementText(doc *etree.Document, path string) string {
	el := doc.FindElement(path)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

func elementAttr(doc *etree.Document, path, attr string) string {
	el := doc.FindElement(path)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.SelectAttrValue(attr, ""))
}
