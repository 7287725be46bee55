// Package domain provides the entities, failure taxonomy and result types
// shared by every stage of a harvest run.
package domain
