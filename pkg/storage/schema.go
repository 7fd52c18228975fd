package storage

// ftsSchema creates the full-text index and the triggers that mirror the
// assets table into it. The FTS rowid is the asset id; tags_text is pulled
// from asset_metadata when it changes.
//
// Kept as raw DDL because gorm cannot express virtual tables or triggers.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS assets_fts USING fts5(
	filename,
	subfolder,
	tags_text,
	tokenize = 'unicode61'
);

CREATE TRIGGER IF NOT EXISTS assets_fts_ai AFTER INSERT ON assets BEGIN
	INSERT INTO assets_fts(rowid, filename, subfolder, tags_text)
	VALUES (new.id, new.filename, new.subfolder, '');
END;

CREATE TRIGGER IF NOT EXISTS assets_fts_au AFTER UPDATE ON assets BEGIN
	DELETE FROM assets_fts WHERE rowid = old.id;
	INSERT INTO assets_fts(rowid, filename, subfolder, tags_text)
	VALUES (
		new.id, new.filename, new.subfolder,
		COALESCE((SELECT tags_text FROM asset_metadata WHERE asset_id = new.id), '')
	);
END;

CREATE TRIGGER IF NOT EXISTS assets_fts_ad AFTER DELETE ON assets BEGIN
	DELETE FROM assets_fts WHERE rowid = old.id;
END;

CREATE TRIGGER IF NOT EXISTS asset_meta_fts_ai AFTER INSERT ON asset_metadata BEGIN
	DELETE FROM assets_fts WHERE rowid = new.asset_id;
	INSERT INTO assets_fts(rowid, filename, subfolder, tags_text)
	SELECT a.id, a.filename, a.subfolder, new.tags_text
	FROM assets a WHERE a.id = new.asset_id;
END;

CREATE TRIGGER IF NOT EXISTS asset_meta_fts_au AFTER UPDATE ON asset_metadata BEGIN
	DELETE FROM assets_fts WHERE rowid = new.asset_id;
	INSERT INTO assets_fts(rowid, filename, subfolder, tags_text)
	SELECT a.id, a.filename, a.subfolder, new.tags_text
	FROM assets a WHERE a.id = new.asset_id;
END;
`
