// Package testutil holds assertions and log capture shared by keysync tests.
package testutil
