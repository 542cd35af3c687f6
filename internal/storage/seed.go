package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type SeedData struct {
	Institutions []SeedInstitution `yaml:"institutions"`
	Persons      []SeedPerson      `yaml:"persons"`
}

type SeedInstitution struct {
	Code   string `yaml:"code"`
	NameJP string `yaml:"name_jp"`
	NameEN string `yaml:"name_en"`
}

type SeedPerson struct {
	Slug        string   `yaml:"slug"`
	Institution string   `yaml:"institution"`
	NameJP      string   `yaml:"name_jp"`
	NameEN      string   `yaml:"name_en"`
	Role        string   `yaml:"role"`
	Active      *bool    `yaml:"active"` // nil = active
	Aliases     []string `yaml:"aliases"`
}

func LoadSeedFile(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	var data SeedData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return &data, nil
}

// Validate checks that codes and slugs are unique and every person points at
// a known institution.
func (d *SeedData) Validate() error {
	codes := make(map[string]struct{}, len(d.Institutions))
	for _, inst := range d.Institutions {
		if inst.Code == "" {
			return fmt.Errorf("institution without code")
		}
		if _, dup := codes[inst.Code]; dup {
			return fmt.Errorf("duplicate institution %s", inst.Code)
		}
		codes[inst.Code] = struct{}{}
	}

	slugs := make(map[string]struct{}, len(d.Persons))
	for _, person := range d.Persons {
		if person.Slug == "" || person.NameJP == "" || person.NameEN == "" {
			return fmt.Errorf("person %q is missing slug or names", person.Slug)
		}
		if _, dup := slugs[person.Slug]; dup {
			return fmt.Errorf("duplicate person %s", person.Slug)
		}
		slugs[person.Slug] = struct{}{}
		if _, ok := codes[person.Institution]; !ok {
			return fmt.Errorf("person %s references unknown institution %q", person.Slug, person.Institution)
		}
	}
	return nil
}

// UniqueAliases trims, drops blanks and removes repeats, keeping first-seen order.
func (sp SeedPerson) UniqueAliases() []string {
	seen := make(map[string]struct{}, len(sp.Aliases))
	out := make([]string, 0, len(sp.Aliases))
	for _, alias := range sp.Aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		if _, dup := seen[alias]; dup {
			continue
		}
		seen[alias] = struct{}{}
		out = append(out, alias)
	}
	return out
}

// Seed upserts institutions and persons and replaces each person's aliases.
func (p *Postgres) Seed(ctx context.Context, data *SeedData) error {
	if err := data.Validate(); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	institutionIDs := make(map[string]int64, len(data.Institutions))
	for _, inst := range data.Institutions {
		query, args, err := psql.Insert("institutions").
			Columns("code", "name_jp", "name_en").
			Values(inst.Code, inst.NameJP, inst.NameEN).
			Suffix("ON CONFLICT (code) DO UPDATE SET name_jp = EXCLUDED.name_jp, name_en = EXCLUDED.name_en RETURNING id").
			ToSql()
		if err != nil {
			return fmt.Errorf("build institution upsert: %w", err)
		}
		var id int64
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return fmt.Errorf("upsert institution %s: %w", inst.Code, err)
		}
		institutionIDs[inst.Code] = id
	}

	for _, person := range data.Persons {
		if err := seedPerson(ctx, tx, person, institutionIDs[person.Institution]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	p.log.Info("storage.seeded", "institutions", len(data.Institutions), "persons", len(data.Persons))
	return nil
}

func seedPerson(ctx context.Context, tx *sql.Tx, person SeedPerson, institutionID int64) error {
	active := true
	if person.Active != nil {
		active = *person.Active
	}

	query, args, err := psql.Insert("persons").
		Columns("institution_id", "slug", "name_jp", "name_en", "role", "active").
		Values(institutionID, person.Slug, person.NameJP, person.NameEN, person.Role, active).
		Suffix(`ON CONFLICT (slug) DO UPDATE SET
			institution_id = EXCLUDED.institution_id,
			name_jp = EXCLUDED.name_jp,
			name_en = EXCLUDED.name_en,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build person upsert: %w", err)
	}
	var personID int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&personID); err != nil {
		return fmt.Errorf("upsert person %s: %w", person.Slug, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM aliases WHERE person_id = $1`, personID); err != nil {
		return fmt.Errorf("clear aliases for %s: %w", person.Slug, err)
	}

	aliases := person.UniqueAliases()
	if len(aliases) == 0 {
		return nil
	}
	insert := psql.Insert("aliases").Columns("person_id", "text")
	for _, alias := range aliases {
		insert = insert.Values(personID, alias)
	}
	query, args, err = insert.ToSql()
	if err != nil {
		return fmt.Errorf("build alias insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert aliases for %s: %w", person.Slug, err)
	}
	return nil
}
