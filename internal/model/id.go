package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type IDType string

const (
	IDTypeContent IDType = "cnt"
	IDTypeTimer   IDType = "tmr"
)

var validIDTypes = map[IDType]bool{
	IDTypeContent: true,
	IDTypeTimer:   true,
}

var idRegex = regexp.MustCompile(`^(cnt|tmr)_[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// GenerateID returns "<type>_<uuidv7>". The v7 layout keeps ids sortable by
// creation time.
func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return fmt.Sprintf("%s_%s", idType, u.String()), nil
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	match := idRegex.FindStringSubmatch(id)
	return IDType(match[1]), nil
}

// ParseIDTimestamp extracts the millisecond creation time embedded in the uuid.
func ParseIDTimestamp(id string) (time.Time, error) {
	if !ValidateID(id) {
		return time.Time{}, fmt.Errorf("invalid ID format: %s", id)
	}
	u, err := uuid.Parse(id[strings.IndexByte(id, '_')+1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse uuid from ID %s: %w", id, err)
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}
