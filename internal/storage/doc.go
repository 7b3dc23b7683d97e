// Package storage persists the case records, the application settings
// key-value table, and the hearing reminder markers.
package storage
