// Package testutil builds Darwin Core archive fixtures for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"testing"
)

const (
	OccurrenceRowType = "http://rs.tdwg.org/dwc/terms/Occurrence"
	EventRowType      = "http://rs.tdwg.org/dwc/terms/Event"
	TaxonRowType      = "http://rs.tdwg.org/dwc/terms/Taxon"
)

// MetaXML returns a meta.xml describing a comma separated core file
// occurrence.csv with one header line and the columns occurrenceID,
// scientificName, decimalLatitude and decimalLongitude.
func MetaXML(rowType string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<archive xmlns="http://rs.tdwg.org/dwc/text/" metadata="eml.xml">
  <core encoding="UTF-8" fieldsTerminatedBy="," linesTerminatedBy="\n" fieldsEnclosedBy="&quot;" ignoreHeaderLines="1" rowType="%s">
    <files>
      <location>occurrence.csv</location>
    </files>
    <id index="0"/>
    <field index="0" term="http://rs.tdwg.org/dwc/terms/occurrenceID"/>
    <field index="1" term="http://rs.tdwg.org/dwc/terms/scientificName"/>
    <field index="2" term="http://rs.tdwg.org/dwc/terms/decimalLatitude"/>
    <field index="3" term="http://rs.tdwg.org/dwc/terms/decimalLongitude"/>
    <field term="http://rs.tdwg.org/dwc/terms/basisOfRecord" default="HumanObservation"/>
  </core>
</archive>`, rowType)
}

// EML returns a minimal EML document. Empty arguments leave the matching
// elements out.
func EML(title, licenceURL, abstract string) string {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<eml:eml xmlns:eml="eml://ecoinformatics.org/eml-2.1.1" packageId="fixture" system="http://gbif.org">
  <dataset>
`)
	if title != "" {
		fmt.Fprintf(&b, "    <title>%s</title>\n", title)
	}
	if abstract != "" {
		fmt.Fprintf(&b, "    <abstract><para>%s</para></abstract>\n", abstract)
	}
	if licenceURL != "" {
		fmt.Fprintf(&b, `    <intellectualRights><para>This work is licensed under a <ulink url="%s"><citetitle>licence</citetitle></ulink>.</para></intellectualRights>`+"\n", licenceURL)
	}
	b.WriteString(`    <purpose><para>Monitoring</para></purpose>
  </dataset>
  <additionalMetadata>
    <metadata>
      <gbif>
        <citation>Frog survey (2024)</citation>
      </gbif>
    </metadata>
  </additionalMetadata>
</eml:eml>`)
	return b.String()
}

// Occurrences is a core file matching MetaXML.
const Occurrences = `occurrenceID,scientificName,decimalLatitude,decimalLongitude
occ-1,Litoria aurea,-33.86,151.21
occ-2,Crinia signifera,-37.81,144.96
occ-3,Limnodynastes peronii,,
`

// Archive zips the given files, keyed by name.
func Archive(t testing.TB, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("error creating fixture entry %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("error writing fixture entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("error closing fixture archive: %v", err)
	}
	return buf.Bytes()
}

// DatasetArchive returns an archive with the given core type and EML fields.
func DatasetArchive(t testing.TB, rowType, title, licenceURL, abstract string) []byte {
	t.Helper()

	return Archive(t, map[string]string{
		"meta.xml":       MetaXML(rowType),
		"eml.xml":        EML(title, licenceURL, abstract),
		"occurrence.csv": Occurrences,
	})
}
