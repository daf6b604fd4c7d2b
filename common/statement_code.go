// Package common provides shared types used across the codebase.
// HARD RULE: StatementCode is defined HERE and ONLY HERE.
// Both protocol and coordinator packages use this type directly.
package common

// StatementCode categorizes statements for execution routing and lock gating.
type StatementCode int

const (
	StatementUnknown StatementCode = iota // 0 - means not yet classified
	StatementQuery                        // MATCH / RETURN / CALL - pure reads
	StatementCreate
	StatementMerge
	StatementDelete
	StatementSet
	StatementRemove
	StatementCopy
	StatementCreateTable // node/rel table DDL
	StatementAlterTable
	StatementDropTable
	StatementUnsupported
)

// IsMutation returns true if the statement type is a mutation operation.
// A false negative here would let a write bypass the cross-process lock,
// so unknown statements count as mutations too.
func (t StatementCode) IsMutation() bool {
	switch t {
	case StatementQuery:
		return false
	case StatementCreate, StatementMerge, StatementDelete, StatementSet,
		StatementRemove, StatementCopy,
		StatementCreateTable, StatementAlterTable, StatementDropTable,
		StatementUnknown, StatementUnsupported:
		return true
	}
	return true
}

// IsSchemaChange returns true for table-level create/alter/drop.
func (t StatementCode) IsSchemaChange() bool {
	switch t {
	case StatementCreateTable, StatementAlterTable, StatementDropTable:
		return true
	}
	return false
}
