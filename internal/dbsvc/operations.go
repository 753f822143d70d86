package dbsvc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/redis/go-redis/v9"
)

const (
	knownDatabasesKey = "qserv:databases"
	metaInstalledKey  = "qserv:meta:installed"
)

func replicaKey(database string) string { return "qserv:replicas:" + database }
func contribKey(id string) string       { return "qserv:contrib:" + id }
func contribIndexKey(database string) string { return "qserv:contrib-index:" + database }
func recordKey(kind, id string) string  { return "qserv:record:" + kind + ":" + id }

// RegisterDatabase marks a database as known, so SaveReplicaInfo no longer
// reports "removed" for it. Backs the qservadmin registerDb command.
func (p *Pool) RegisterDatabase(ctx context.Context, database string) error {
	return p.withService(ctx, func(rdb *redis.Client) error {
		return rdb.SAdd(ctx, knownDatabasesKey, database).Err()
	})
}

// UnregisterDatabase removes a database from the known set; subsequent
// census persist attempts for it report removed=true.
func (p *Pool) UnregisterDatabase(ctx context.Context, database string) error {
	return p.withService(ctx, func(rdb *redis.Client) error {
		return rdb.SRem(ctx, knownDatabasesKey, database).Err()
	})
}

// ListDatabases returns every registered database name.
func (p *Pool) ListDatabases(ctx context.Context) ([]string, error) {
	var out []string
	err := p.withService(ctx, func(rdb *redis.Client) error {
		members, err := rdb.SMembers(ctx, knownDatabasesKey).Result()
		if err != nil {
			return err
		}
		out = members
		return nil
	})
	return out, err
}

// SaveReplicaInfo persists a census for database, implementing
// request.PersistFunc: if the database has been unregistered concurrently,
// it reports removed=true instead of an error (FindAllRequest's contract
// for "database removed during persist").
func (p *Pool) SaveReplicaInfo(ctx context.Context, database string, infos []replica.Info) (bool, error) {
	var removed bool
	err := p.withService(ctx, func(rdb *redis.Client) error {
		known, err := rdb.SIsMember(ctx, knownDatabasesKey, database).Result()
		if err != nil {
			return err
		}
		if !known {
			removed = true
			return nil
		}
		data, err := json.Marshal(infos)
		if err != nil {
			return err
		}
		return rdb.Set(ctx, replicaKey(database), data, 0).Err()
	})
	return removed, err
}

// LoadReplicaInfo returns the last-persisted census for database, or nil
// if none has been saved yet.
func (p *Pool) LoadReplicaInfo(ctx context.Context, database string) ([]replica.Info, error) {
	var out []replica.Info
	err := p.withService(ctx, func(rdb *redis.Client) error {
		data, err := rdb.Get(ctx, replicaKey(database)).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &out)
	})
	return out, err
}

// SaveContribution persists an arbitrary JSON-encodable contribution
// record under id, indexed under database for ListContributions (used by
// IngestRequestMgr's boot-time recovery scan).
func (p *Pool) SaveContribution(ctx context.Context, database, id string, record interface{}) error {
	return p.withService(ctx, func(rdb *redis.Client) error {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		pipe := rdb.TxPipeline()
		pipe.Set(ctx, contribKey(id), data, 0)
		pipe.SAdd(ctx, contribIndexKey(database), id)
		_, err = pipe.Exec(ctx)
		return err
	})
}

// LoadContribution unmarshals the contribution stored under id into out.
func (p *Pool) LoadContribution(ctx context.Context, id string, out interface{}) error {
	return p.withService(ctx, func(rdb *redis.Client) error {
		data, err := rdb.Get(ctx, contribKey(id)).Bytes()
		if err != nil {
			if err == redis.Nil {
				return fmt.Errorf("dbsvc: no contribution %s", id)
			}
			return err
		}
		return json.Unmarshal(data, out)
	})
}

// ListContributionIDs returns every contribution id indexed under
// database, for the boot-time recovery scan.
func (p *Pool) ListContributionIDs(ctx context.Context, database string) ([]string, error) {
	var out []string
	err := p.withService(ctx, func(rdb *redis.Client) error {
		members, err := rdb.SMembers(ctx, contribIndexKey(database)).Result()
		if err != nil {
			return err
		}
		out = members
		return nil
	})
	return out, err
}

// DeleteContribution removes a contribution record and its index entry.
func (p *Pool) DeleteContribution(ctx context.Context, database, id string) error {
	return p.withService(ctx, func(rdb *redis.Client) error {
		pipe := rdb.TxPipeline()
		pipe.Del(ctx, contribKey(id))
		pipe.SRem(ctx, contribIndexKey(database), id)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// InstallMeta marks the metadata schema as installed. Backs qservadmin's
// installMeta command; the actual MySQL metadata database this mirrors
// is out of scope, so this only sets a sentinel that MetaInstalled (and
// qservadmin's printMeta) reports; registerDb/unregisterDb do not check it.
func (p *Pool) InstallMeta(ctx context.Context) error {
	return p.withService(ctx, func(rdb *redis.Client) error {
		return rdb.Set(ctx, metaInstalledKey, "1", 0).Err()
	})
}

// DestroyMeta reverses InstallMeta and drops every registered database,
// replica census, and contribution index. Backs qservadmin's destroyMeta
// command.
func (p *Pool) DestroyMeta(ctx context.Context) error {
	return p.withService(ctx, func(rdb *redis.Client) error {
		dbs, err := rdb.SMembers(ctx, knownDatabasesKey).Result()
		if err != nil {
			return err
		}
		pipe := rdb.TxPipeline()
		pipe.Del(ctx, metaInstalledKey, knownDatabasesKey)
		for _, db := range dbs {
			pipe.Del(ctx, replicaKey(db), contribIndexKey(db))
		}
		_, err = pipe.Exec(ctx)
		return err
	})
}

// MetaInstalled reports whether InstallMeta has been called since the
// last DestroyMeta.
func (p *Pool) MetaInstalled(ctx context.Context) (bool, error) {
	var installed bool
	err := p.withService(ctx, func(rdb *redis.Client) error {
		n, err := rdb.Exists(ctx, metaInstalledKey).Result()
		if err != nil {
			return err
		}
		installed = n > 0
		return nil
	})
	return installed, err
}

// SaveTerminalRecord persists a Request or Job's finished state for
// inspection (the admin stats/history surface), keyed by kind ("request"
// or "job") and id.
func (p *Pool) SaveTerminalRecord(ctx context.Context, kind, id string, record interface{}) error {
	return p.withService(ctx, func(rdb *redis.Client) error {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return rdb.Set(ctx, recordKey(kind, id), data, 0).Err()
	})
}
