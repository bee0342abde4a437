package store

import "fmt"

// Artifacts are append-only; (name, version) identifies one saved model.
const schemaModelArtifacts = `
CREATE TABLE IF NOT EXISTS model_artifacts (
    name TEXT NOT NULL,
    version INTEGER NOT NULL,
    artifact %s NOT NULL,
    size INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (name, version)
);
`

// schemaFor returns the schema with the driver's binary column type.
func schemaFor(driver string) string {
	blob := "BLOB"
	if driver == "postgres" {
		blob = "BYTEA"
	}
	return fmt.Sprintf(schemaModelArtifacts, blob)
}
