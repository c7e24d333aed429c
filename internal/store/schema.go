package store

// TableCount is the number of tables a fully initialized database holds.
// A database with any other non-zero count is treated as corrupt.
const TableCount = 5

// createTables is executed in order when bootstrapping an empty database.
var createTables = [TableCount]string{
	createTableDrone,
	createTableJob,
	createTableJobStatus,
	createTableDroneOwnership,
	createTableDatabaseVersion,
}

const createTableDrone = `
CREATE TABLE drone (
	id TEXT PRIMARY KEY NOT NULL,
	address TEXT NOT NULL,
	port INTEGER NOT NULL DEFAULT 9079,
	online BOOLEAN NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'Offline'
);`

const createTableJob = `
CREATE TABLE job (
	id TEXT PRIMARY KEY NOT NULL,
	active BOOLEAN NOT NULL DEFAULT 1,
	status TEXT NOT NULL,
	tags TEXT,
	created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished DATETIME DEFAULT NULL
);`

const createTableJobStatus = `
CREATE TABLE job_status_enum (
	id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	job_status TEXT NOT NULL UNIQUE
);`

const createTableDroneOwnership = `
CREATE TABLE drone_ownership (
	drone_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	PRIMARY KEY (drone_id, job_id),
	FOREIGN KEY (drone_id) REFERENCES drone(id),
	FOREIGN KEY (job_id) REFERENCES job(id)
);`

const createTableDatabaseVersion = `
CREATE TABLE database_version (
	version TEXT NOT NULL
);`

const (
	selectTableCount = `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`

	selectDatabaseVersion = `SELECT version FROM database_version LIMIT 1`

	insertJobStatus = `INSERT INTO job_status_enum (job_status) VALUES (?)`

	insertDatabaseVersion = `INSERT INTO database_version (version) VALUES (?)`
)
