// Package datajpa is a persistence-access layer for members and teams:
// repositories with derived and declared query methods, paging, bulk
// updates, lazy associations and pessimistic locking, on top of Bun.
package datajpa
