// Package database opens and migrates the on-site store database.
//
// TagTrace keeps everything local to the store in a single SQLite file:
// gateway and tag identities, telemetry readings, detection events and
// the audit trail. WAL mode keeps reads flowing while the ingestion
// pipeline writes, and a busy timeout absorbs lock contention from the
// HTTP and MQTT paths hitting the file at once.
//
// Schema changes ship as embedded .up.sql/.down.sql pairs and are
// additive only: new columns are nullable or defaulted, nothing is
// dropped or renamed. The file is chmod 0600 because tag serials and
// gateway credential hashes live in it.
package database
