package trustanchor

import (
	"encoding/xml"
	"fmt"
	"time"
)

// anchorDocument is the schema of an uploaded configuration anchor. The
// generation time is optional: an anchor without one is valid and reported as
// unknown.
type anchorDocument struct {
	XMLName            xml.Name       `xml:"configurationAnchor"`
	InstanceIdentifier string         `xml:"instanceIdentifier"`
	GeneratedAt        string         `xml:"generatedAt"`
	Sources            []anchorSource `xml:"source"`
}

type anchorSource struct {
	DownloadURL string `xml:"downloadURL"`
}

// parsedAnchor is the validated content of an uploaded anchor.
type parsedAnchor struct {
	InstanceIdentifier string
	GeneratedAt        *time.Time
	DownloadURLs       []string
}

// parseAnchor schema-validates raw anchor bytes without persisting anything.
func parseAnchor(data []byte) (*parsedAnchor, error) {
	var doc anchorDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed anchor: %v", err)
	}
	if doc.InstanceIdentifier == "" {
		return nil, fmt.Errorf("anchor declares no instance identifier")
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("anchor declares no download sources")
	}

	parsed := &parsedAnchor{InstanceIdentifier: doc.InstanceIdentifier}
	for i, src := range doc.Sources {
		if src.DownloadURL == "" {
			return nil, fmt.Errorf("anchor source %d has no download URL", i+1)
		}
		parsed.DownloadURLs = append(parsed.DownloadURLs, src.DownloadURL)
	}

	if doc.GeneratedAt != "" {
		t, err := time.Parse(time.RFC3339, doc.GeneratedAt)
		if err != nil {
			return nil, fmt.Errorf("anchor declares invalid generation time %q: %v", doc.GeneratedAt, err)
		}
		t = t.UTC()
		parsed.GeneratedAt = &t
	}
	return parsed, nil
}
