package accounts

import "github.com/uptrace/bun"

// SelectAccountSQL renders the single account read for column = value.
func SelectAccountSQL(db bun.IDB, column string, value any, locked bool) string {
	return selectAccount(db, &Account{}, column, value, locked, selectOptions{}).String()
}
