package storage

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS clusters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	deleted_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS kubernetes_namespaces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	uid TEXT NOT NULL,
	self_link TEXT NOT NULL DEFAULT '',
	resource_version TEXT NOT NULL DEFAULT '',
	creation_timestamp TIMESTAMP,
	cluster_id INTEGER NOT NULL,
	compliant BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (cluster_id, name),
	FOREIGN KEY (cluster_id) REFERENCES clusters(id)
);

CREATE INDEX IF NOT EXISTS idx_kubernetes_namespaces_cluster ON kubernetes_namespaces(cluster_id);

CREATE TABLE IF NOT EXISTS kubernetes_pods (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	namespace TEXT NOT NULL,
	generate_name TEXT NOT NULL DEFAULT '',
	uid TEXT NOT NULL,
	self_link TEXT NOT NULL DEFAULT '',
	resource_version TEXT NOT NULL DEFAULT '',
	creation_timestamp TIMESTAMP,
	cluster_id INTEGER NOT NULL,
	pod_status TEXT NOT NULL DEFAULT '',
	compliant BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (cluster_id, namespace, name),
	FOREIGN KEY (cluster_id) REFERENCES clusters(id)
);

CREATE INDEX IF NOT EXISTS idx_kubernetes_pods_cluster ON kubernetes_pods(cluster_id);

CREATE TABLE IF NOT EXISTS images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	name TEXT NOT NULL,
	tag TEXT NOT NULL DEFAULT '',
	docker_image_id TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	scan_results TEXT NOT NULL DEFAULT '',
	running_in_cluster BOOLEAN NOT NULL DEFAULT FALSE,
	cluster_id INTEGER NOT NULL,
	UNIQUE (cluster_id, url, docker_image_id),
	FOREIGN KEY (cluster_id) REFERENCES clusters(id)
);

CREATE INDEX IF NOT EXISTS idx_images_running ON images(cluster_id, running_in_cluster);

CREATE TABLE IF NOT EXISTS pod_images (
	pod_id INTEGER NOT NULL,
	image_id INTEGER NOT NULL,
	PRIMARY KEY (pod_id, image_id),
	FOREIGN KEY (pod_id) REFERENCES kubernetes_pods(id),
	FOREIGN KEY (image_id) REFERENCES images(id)
);

CREATE TABLE IF NOT EXISTS history_kubernetes_namespaces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	uid TEXT NOT NULL,
	self_link TEXT NOT NULL DEFAULT '',
	resource_version TEXT NOT NULL DEFAULT '',
	creation_timestamp TIMESTAMP,
	cluster_id INTEGER NOT NULL,
	compliant BOOLEAN NOT NULL DEFAULT FALSE,
	saved_date DATE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_namespaces_day ON history_kubernetes_namespaces(cluster_id, saved_date);

CREATE TABLE IF NOT EXISTS history_kubernetes_pods (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	namespace TEXT NOT NULL,
	generate_name TEXT NOT NULL DEFAULT '',
	uid TEXT NOT NULL,
	self_link TEXT NOT NULL DEFAULT '',
	resource_version TEXT NOT NULL DEFAULT '',
	creation_timestamp TIMESTAMP,
	cluster_id INTEGER NOT NULL,
	pod_status TEXT NOT NULL DEFAULT '',
	compliant BOOLEAN NOT NULL DEFAULT FALSE,
	saved_date DATE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_pods_day ON history_kubernetes_pods(cluster_id, saved_date);

CREATE TABLE IF NOT EXISTS history_pod_images (
	history_pod_id INTEGER NOT NULL,
	image_id INTEGER NOT NULL,
	PRIMARY KEY (history_pod_id, image_id),
	FOREIGN KEY (history_pod_id) REFERENCES history_kubernetes_pods(id),
	FOREIGN KEY (image_id) REFERENCES images(id)
);

CREATE TABLE IF NOT EXISTS history_archive_runs (
	cluster_id INTEGER NOT NULL,
	saved_date DATE NOT NULL,
	run_id TEXT NOT NULL,
	state TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	error TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (cluster_id, saved_date)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS clusters (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS kubernetes_namespaces (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	uid TEXT NOT NULL,
	self_link TEXT NOT NULL DEFAULT '',
	resource_version TEXT NOT NULL DEFAULT '',
	creation_timestamp TIMESTAMPTZ,
	cluster_id BIGINT NOT NULL REFERENCES clusters(id),
	compliant BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (cluster_id, name)
);

CREATE INDEX IF NOT EXISTS idx_kubernetes_namespaces_cluster ON kubernetes_namespaces(cluster_id);

CREATE TABLE IF NOT EXISTS kubernetes_pods (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	namespace TEXT NOT NULL,
	generate_name TEXT NOT NULL DEFAULT '',
	uid TEXT NOT NULL,
	self_link TEXT NOT NULL DEFAULT '',
	resource_version TEXT NOT NULL DEFAULT '',
	creation_timestamp TIMESTAMPTZ,
	cluster_id BIGINT NOT NULL REFERENCES clusters(id),
	pod_status TEXT NOT NULL DEFAULT '',
	compliant BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (cluster_id, namespace, name)
);

CREATE INDEX IF NOT EXISTS idx_kubernetes_pods_cluster ON kubernetes_pods(cluster_id);

CREATE TABLE IF NOT EXISTS images (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	name TEXT NOT NULL,
	tag TEXT NOT NULL DEFAULT '',
	docker_image_id TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	scan_results TEXT NOT NULL DEFAULT '',
	running_in_cluster BOOLEAN NOT NULL DEFAULT FALSE,
	cluster_id BIGINT NOT NULL REFERENCES clusters(id),
	UNIQUE (cluster_id, url, docker_image_id)
);

CREATE INDEX IF NOT EXISTS idx_images_running ON images(cluster_id, running_in_cluster);

CREATE TABLE IF NOT EXISTS pod_images (
	pod_id BIGINT NOT NULL REFERENCES kubernetes_pods(id),
	image_id BIGINT NOT NULL REFERENCES images(id),
	PRIMARY KEY (pod_id, image_id)
);

CREATE TABLE IF NOT EXISTS history_kubernetes_namespaces (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	uid TEXT NOT NULL,
	self_link TEXT NOT NULL DEFAULT '',
	resource_version TEXT NOT NULL DEFAULT '',
	creation_timestamp TIMESTAMPTZ,
	cluster_id BIGINT NOT NULL,
	compliant BOOLEAN NOT NULL DEFAULT FALSE,
	saved_date DATE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_namespaces_day ON history_kubernetes_namespaces(cluster_id, saved_date);

CREATE TABLE IF NOT EXISTS history_kubernetes_pods (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	namespace TEXT NOT NULL,
	generate_name TEXT NOT NULL DEFAULT '',
	uid TEXT NOT NULL,
	self_link TEXT NOT NULL DEFAULT '',
	resource_version TEXT NOT NULL DEFAULT '',
	creation_timestamp TIMESTAMPTZ,
	cluster_id BIGINT NOT NULL,
	pod_status TEXT NOT NULL DEFAULT '',
	compliant BOOLEAN NOT NULL DEFAULT FALSE,
	saved_date DATE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_pods_day ON history_kubernetes_pods(cluster_id, saved_date);

CREATE TABLE IF NOT EXISTS history_pod_images (
	history_pod_id BIGINT NOT NULL REFERENCES history_kubernetes_pods(id),
	image_id BIGINT NOT NULL REFERENCES images(id),
	PRIMARY KEY (history_pod_id, image_id)
);

CREATE TABLE IF NOT EXISTS history_archive_runs (
	cluster_id BIGINT NOT NULL,
	saved_date DATE NOT NULL,
	run_id TEXT NOT NULL,
	state TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	error TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (cluster_id, saved_date)
);
`
