package protocol

import (
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/burrowdb/burrow/common"
)

// Classification is the result of lexically analyzing a single statement.
// IsMutating must never be false for a statement that actually writes; a
// read misclassified as a write only costs an unnecessary lock acquisition.
type Classification struct {
	Code                  common.StatementCode
	IsMutating            bool
	IsSchemaChange        bool
	HasUnsupportedPattern bool
	UnsupportedReason     string
}

var (
	// Mutation keywords at statement start or at a top-level clause boundary
	// (preceded by whitespace or a closing paren). Matching inside string
	// literals is an accepted false positive - classification is lexical only.
	mutationClausePattern = regexp.MustCompile(
		`(?i)(?:^|[\s)])(CREATE|MERGE|DELETE|SET|REMOVE|DROP|ALTER|COPY)\b`)

	// Table-level schema changes
	createTablePattern = regexp.MustCompile(`(?i)^\s*CREATE\s+(?:NODE\s+|REL\s+)?TABLE\b`)
	alterTablePattern  = regexp.MustCompile(`(?i)^\s*ALTER\s+TABLE\b`)
	dropTablePattern   = regexp.MustCompile(`(?i)^\s*DROP\s+TABLE\b`)

	// Leading-keyword patterns for statement code assignment
	createPattern = regexp.MustCompile(`(?i)^\s*CREATE\b`)
	mergePattern  = regexp.MustCompile(`(?i)^\s*MERGE\b`)
	deletePattern = regexp.MustCompile(`(?i)^\s*(?:DETACH\s+)?DELETE\b`)
	copyPattern   = regexp.MustCompile(`(?i)^\s*COPY\b`)
	queryPattern  = regexp.MustCompile(`(?i)^\s*(?:MATCH|OPTIONAL\s+MATCH|RETURN|WITH|UNWIND|CALL|EXPLAIN|PROFILE|SELECT)\b`)

	// The engine rejects compound primary keys; catch them before submission
	// so the caller gets an actionable message instead of a cryptic one.
	multiColumnPKPattern = regexp.MustCompile(
		`(?i)PRIMARY\s+KEY\s*\(\s*[A-Za-z_][A-Za-z0-9_]*\s*(?:,\s*[A-Za-z_][A-Za-z0-9_]*\s*)+\)`)
)

// Classifier performs cached lexical statement classification.
// Safe for concurrent use.
type Classifier struct {
	cache *lru.Cache[uint64, Classification]
}

// NewClassifier creates a classifier with an LRU result cache of the given
// size. Tool-call workloads repeat statements heavily, so even a small cache
// has a high hit rate.
func NewClassifier(cacheSize int) (*Classifier, error) {
	cache, err := lru.New[uint64, Classification](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Classifier{cache: cache}, nil
}

// Classify analyzes a statement and returns its classification.
func (c *Classifier) Classify(stmt string) Classification {
	key := Digest(stmt)
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	result := classify(stmt)
	c.cache.Add(key, result)
	return result
}

func classify(stmt string) Classification {
	cls := Classification{}

	switch {
	case createTablePattern.MatchString(stmt):
		cls.Code = common.StatementCreateTable
	case alterTablePattern.MatchString(stmt):
		cls.Code = common.StatementAlterTable
	case dropTablePattern.MatchString(stmt):
		cls.Code = common.StatementDropTable
	case mergePattern.MatchString(stmt):
		cls.Code = common.StatementMerge
	case deletePattern.MatchString(stmt):
		cls.Code = common.StatementDelete
	case copyPattern.MatchString(stmt):
		cls.Code = common.StatementCopy
	case createPattern.MatchString(stmt):
		cls.Code = common.StatementCreate
	case queryPattern.MatchString(stmt):
		cls.Code = common.StatementQuery
	default:
		// No recognizable leading keyword; StatementUnknown counts as a
		// mutation so it cannot slip past the write lock.
		cls.Code = common.StatementUnknown
	}

	// A read-coded statement can still mutate through a clause-level keyword
	// (MATCH ... SET, MATCH ... DELETE).
	cls.IsMutating = cls.Code.IsMutation() || mutationClausePattern.MatchString(stmt)
	cls.IsSchemaChange = cls.Code.IsSchemaChange()

	if multiColumnPKPattern.MatchString(stmt) {
		cls.HasUnsupportedPattern = true
		cls.UnsupportedReason = "compound primary keys are not supported; declare a single PRIMARY KEY column"
	}

	return cls
}

// Digest returns a stable 64-bit fingerprint of a statement, used as the
// classification cache key and for correlating log lines without logging
// full statement text.
func Digest(stmt string) uint64 {
	return xxhash.Sum64String(stmt)
}

// TruncateForLog returns the first n runes of a statement for logging,
// never splitting a multi-byte character.
func TruncateForLog(stmt string, n int) string {
	if len(stmt) <= n {
		return stmt
	}
	runes := []rune(stmt)
	if len(runes) <= n {
		return stmt
	}
	return string(runes[:n]) + "..."
}

// IsMutation reports whether a statement requires the cross-process write
// lock. Convenience wrapper over Classify for callers that only gate writes.
func (c *Classifier) IsMutation(stmt string) bool {
	return c.Classify(stmt).IsMutating
}

// commentOnly reports whether a line contains nothing but a comment.
func commentOnly(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "--")
}
