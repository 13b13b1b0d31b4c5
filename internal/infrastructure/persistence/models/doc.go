// Package models contains the GORM persistence models for the sync engine.
// They are kept apart from the domain entities; each model carries its
// TableName and ToDomain/FromDomain mappers, and repositories in the parent
// package work on models only.
package models
