// Package repository provides generic repositories built on Bun: CRUD with
// identity-map semantics, declared query methods executed in the unit of
// work carried by the context, paging and bulk updates.
package repository
