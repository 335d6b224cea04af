// utilitário pequeno para formatação consistente de valores em headers.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatMillis(d time.Duration) string { return strconv.FormatInt(d.Milliseconds(), 10) }

// formatReset usa RFC 3339 em UTC, com milissegundos.
func formatReset(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000Z07:00") }
