package memory

import "time"

// nowUTC stamps rows the way the database's NOW() would.
func nowUTC() time.Time { return time.Now().UTC() }
