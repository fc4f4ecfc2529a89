package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Template versions. Steps and dependencies are stored as one JSONB
			-- definition since an active version is never edited in place.
			CREATE TABLE templates (
				id VARCHAR(255) PRIMARY KEY,
				template_group_id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL DEFAULT 1,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'inactive')),
				steps JSONB NOT NULL DEFAULT '[]',
				dependencies JSONB NOT NULL DEFAULT '[]',
				metadata JSONB,
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				activated_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_templates_group ON templates(template_group_id);
			CREATE INDEX idx_templates_status ON templates(status);
			CREATE INDEX idx_templates_owner ON templates(owner);
			CREATE INDEX idx_templates_deleted_at ON templates(deleted_at);
			CREATE UNIQUE INDEX idx_templates_group_version ON templates(template_group_id, version) WHERE deleted_at IS NULL;
			CREATE UNIQUE INDEX idx_templates_one_active ON templates(template_group_id) WHERE status = 'active' AND deleted_at IS NULL;
		`,
		2: `
			CREATE TABLE instances (
				id VARCHAR(255) PRIMARY KEY,
				template_id VARCHAR(255) NOT NULL REFERENCES templates(id),
				matter_id VARCHAR(255),
				contact_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'completed', 'stalled', 'cancelled')),
				steps JSONB NOT NULL DEFAULT '{}',
				context JSONB NOT NULL DEFAULT '{}',
				revision BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_instances_template_id ON instances(template_id);
			CREATE INDEX idx_instances_matter_id ON instances(matter_id);
			CREATE INDEX idx_instances_status ON instances(status);
		`,
	}
}
