package migration

import "embed"

const migrationsDir = "migrations"

//go:embed migrations
var embeddedMigrations embed.FS
