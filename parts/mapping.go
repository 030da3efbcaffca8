package parts

import (
	"encoding/xml"
	"fmt"
)

// identifierMapping is the uploaded identifier mapping document. Every mapped
// identifier must belong to the local instance and use a known member class.
type identifierMapping struct {
	XMLName  xml.Name       `xml:"mappings"`
	Mappings []mappingEntry `xml:"mapping"`
}

type mappingEntry struct {
	OldID string    `xml:"oldId"`
	NewID mappingID `xml:"newId"`
}

type mappingID struct {
	XRoadInstance string `xml:"xroadInstance"`
	MemberClass   string `xml:"memberClass"`
	MemberCode    string `xml:"memberCode"`
}

// checkIdentifierMapping applies the stricter schema of identifier-mapping
// uploads before the generic validator runs.
func (s *Store) checkIdentifierMapping(data []byte) error {
	var doc identifierMapping
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("malformed identifier mapping: %v", err)
	}
	if len(doc.Mappings) == 0 {
		return fmt.Errorf("identifier mapping contains no entries")
	}

	settings, err := s.settings.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to load system settings: %v", err)
	}

	knownClasses := make(map[string]bool, len(settings.MemberClasses))
	for _, class := range settings.MemberClasses {
		knownClasses[class] = true
	}

	for i, entry := range doc.Mappings {
		if entry.NewID.XRoadInstance != settings.InstanceIdentifier {
			return fmt.Errorf("mapping %d references instance %q, expected %q",
				i+1, entry.NewID.XRoadInstance, settings.InstanceIdentifier)
		}
		if !knownClasses[entry.NewID.MemberClass] {
			return fmt.Errorf("mapping %d uses unknown member class %q", i+1, entry.NewID.MemberClass)
		}
		if entry.NewID.MemberCode == "" {
			return fmt.Errorf("mapping %d has an empty member code", i+1)
		}
		if entry.OldID == "" {
			return fmt.Errorf("mapping %d has an empty old identifier", i+1)
		}
	}
	return nil
}
