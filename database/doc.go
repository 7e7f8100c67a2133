// Package database provides connection management, migrations, foreign key
// handling, configuration loading, store error classification and logging
// built on top of Bun.
package database
