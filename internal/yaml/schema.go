package yaml

import (
	"fmt"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

// Inbox file types. A file without a file_type is a submission.
const (
	FileTypeSubmit        = "submit"
	FileTypeRemove        = "remove"
	FileTypeUpdateContent = "update_content"
	FileTypeSetCategory   = "set_category"
)

var validFileTypes = map[string]bool{
	FileTypeSubmit:        true,
	FileTypeRemove:        true,
	FileTypeUpdateContent: true,
	FileTypeSetCategory:   true,
}

type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// ParseSchemaHeader reads the header of an inbox file. Missing fields default
// to the current schema version and a submission.
func ParseSchemaHeader(content []byte) (SchemaHeader, error) {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return SchemaHeader{}, fmt.Errorf("parse yaml: %w", err)
	}
	if header.SchemaVersion == 0 {
		header.SchemaVersion = CurrentSchemaVersion
	}
	if header.FileType == "" {
		header.FileType = FileTypeSubmit
	}

	if header.SchemaVersion < 0 {
		return SchemaHeader{}, fmt.Errorf("invalid schema_version %d (must be >= 1)", header.SchemaVersion)
	}
	if header.SchemaVersion > CurrentSchemaVersion {
		return SchemaHeader{}, fmt.Errorf("unsupported schema_version %d (max supported: %d)",
			header.SchemaVersion, CurrentSchemaVersion)
	}
	if !validFileTypes[header.FileType] {
		return SchemaHeader{}, fmt.Errorf("unknown file_type: %q", header.FileType)
	}
	return header, nil
}
