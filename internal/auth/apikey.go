package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
)

// terminalIDPattern is {tenantId}-{storeCode}-{NNN} with a zero-padded
// terminal number.
var terminalIDPattern = regexp.MustCompile(`^([A-Z][0-9]{4})-([A-Za-z0-9]+)-([0-9]{3})$`)

// TerminalID is the parsed form of a terminal identifier.
type TerminalID struct {
	TenantID   string
	StoreCode  string
	TerminalNo int
}

// String formats the identifier back to its canonical form.
func (t TerminalID) String() string {
	return fmt.Sprintf("%s-%s-%03d", t.TenantID, t.StoreCode, t.TerminalNo)
}

// ParseTerminalID parses and validates a terminal identifier.
func ParseTerminalID(id string) (TerminalID, error) {
	match := terminalIDPattern.FindStringSubmatch(strings.TrimSpace(id))
	if match == nil {
		return TerminalID{}, apperr.Validation(apperr.CodeValidation, "terminal_id must be {tenantId}-{storeCode}-{NNN}")
	}
	no, err := strconv.Atoi(match[3])
	if err != nil {
		return TerminalID{}, apperr.Validation(apperr.CodeValidation, "terminal number is not numeric")
	}
	return TerminalID{TenantID: match[1], StoreCode: match[2], TerminalNo: no}, nil
}

// NewAPIKey generates a fresh API key. Only the hash is persisted; the clear
// value is returned to the caller exactly once, at terminal creation.
func NewAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", apperr.Internal(apperr.CodeInternal, "generate api key", err)
	}
	return hex.EncodeToString(raw), nil
}

// HashAPIKey returns the stored form of an API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey compares a presented key against the stored hash in constant
// time.
func VerifyAPIKey(presented, storedHash string) bool {
	presentedHash := HashAPIKey(presented)
	return subtle.ConstantTimeCompare([]byte(presentedHash), []byte(storedHash)) == 1
}
