package services

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const referenceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ReferenceGenerator produces human-readable booking references of the form
// PREFIX-YYYYMMDD-XXXX, dated in UTC.
type ReferenceGenerator struct {
	prefix string
	now    func() time.Time
}

// NewReferenceGenerator creates a generator; an empty prefix means "BI".
func NewReferenceGenerator(prefix string) *ReferenceGenerator {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "BI"
	}
	return &ReferenceGenerator{prefix: prefix, now: time.Now}
}

// Generate returns a fresh reference.
func (g *ReferenceGenerator) Generate() string {
	id := uuid.New()
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = referenceAlphabet[int(id[i])%len(referenceAlphabet)]
	}
	return g.prefix + "-" + g.now().UTC().Format("20060102") + "-" + string(suffix)
}
