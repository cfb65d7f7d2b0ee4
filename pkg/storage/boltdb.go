package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketApps            = []byte("apps")
	bucketDeployHistories = []byte("deploy_histories")
	bucketJobs            = []byte("jobs")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "ghost.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketApps, bucketDeployHistories, bucketJobs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getJSON(b *bolt.Bucket, key string, v interface{}) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

// App operations

func loadApp(tx *bolt.Tx, id string) (*types.App, error) {
	var app types.App
	ok, err := getJSON(tx.Bucket(bucketApps), id, &app)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("app %s: %w", id, errdefs.ErrNotFound)
	}
	return &app, nil
}

func (s *BoltStore) saveApp(tx *bolt.Tx, app *types.App) error {
	app.Version++
	app.UpdatedAt = s.now()
	return putJSON(tx.Bucket(bucketApps), app.ID, app)
}

// CreateApp stores a new app, assigning an id when none is set
func (s *BoltStore) CreateApp(app *types.App) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if app.ID == "" {
			app.ID = uuid.New().String()
		}
		if tx.Bucket(bucketApps).Get([]byte(app.ID)) != nil {
			return fmt.Errorf("app %s already exists", app.ID)
		}
		app.Version = 0
		app.CreatedAt = s.now()
		return s.saveApp(tx, app)
	})
}

func (s *BoltStore) GetApp(id string) (*types.App, error) {
	var app *types.App
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		app, err = loadApp(tx, id)
		return err
	})
	return app, err
}

func (s *BoltStore) ListApps() ([]*types.App, error) {
	var apps []*types.App
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApps).ForEach(func(k, v []byte) error {
			var app types.App
			if err := json.Unmarshal(v, &app); err != nil {
				return err
			}
			apps = append(apps, &app)
			return nil
		})
	})
	return apps, err
}

// UpdateApp applies fn to the stored app and saves the result. Identity and
// versioning fields are restored after fn runs.
func (s *BoltStore) UpdateApp(id string, fn func(app *types.App) error) (*types.App, error) {
	var app *types.App
	err := s.db.Update(func(tx *bolt.Tx) error {
		current, err := loadApp(tx, id)
		if err != nil {
			return err
		}
		version, created := current.Version, current.CreatedAt
		if err := fn(current); err != nil {
			return err
		}
		current.ID = id
		current.Version = version
		current.CreatedAt = created
		app = current
		return s.saveApp(tx, current)
	})
	return app, err
}

func (s *BoltStore) DeleteApp(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApps).Delete([]byte(id))
	})
}

// MarkModuleInitialized sets the initialized flag of one module
func (s *BoltStore) MarkModuleInitialized(appID, module string) error {
	_, err := s.UpdateApp(appID, func(app *types.App) error {
		m := app.Module(module)
		if m == nil {
			return fmt.Errorf("app %s: module %s: %w", appID, module, errdefs.ErrNotFound)
		}
		m.Initialized = true
		return nil
	})
	return err
}

// UpdateAutoscale sets the cached sizing of the app's autoscaling group
func (s *BoltStore) UpdateAutoscale(appID string, min, max, current int) error {
	_, err := s.UpdateApp(appID, func(app *types.App) error {
		if app.Autoscale == nil {
			app.Autoscale = &types.Autoscale{}
		}
		app.Autoscale.Min = min
		app.Autoscale.Max = max
		app.Autoscale.Current = current
		return nil
	})
	return err
}

// UpdateAMI sets the app's AMI and, when build is not nil, its AMI name
func (s *BoltStore) UpdateAMI(appID, ami string, build *types.BuildInfos) error {
	_, err := s.UpdateApp(appID, func(app *types.App) error {
		app.AMI = ami
		if build != nil {
			if app.BuildInfos == nil {
				app.BuildInfos = &types.BuildInfos{}
			}
			app.BuildInfos.AMIName = build.AMIName
		}
		return nil
	})
	return err
}

func colorOf(app *types.App) types.Color {
	if c := app.Color(); c != "" {
		return c
	}
	return types.ColorBlue
}

func findAlterEgo(tx *bolt.Tx, app *types.App) (*types.App, error) {
	want := colorOf(app).Opposite()
	var found *types.App
	err := tx.Bucket(bucketApps).ForEach(func(k, v []byte) error {
		if found != nil || string(k) == app.ID {
			return nil
		}
		var other types.App
		if err := json.Unmarshal(v, &other); err != nil {
			return err
		}
		if other.Name == app.Name && other.Env == app.Env && other.Role == app.Role && other.Color() == want {
			found = &other
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("alter ego of app %s: %w", app.ID, errdefs.ErrNotFound)
	}
	return found, nil
}

// FindAlterEgo returns the app with the same name, env and role and the
// opposite color
func (s *BoltStore) FindAlterEgo(app *types.App) (*types.App, error) {
	var found *types.App
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = findAlterEgo(tx, app)
		return err
	})
	return found, err
}

// CreateAlterEgo enables blue/green on an app. When no alter ego exists, a
// copy of the app with the opposite color is created offline and the app is
// set online. An existing alter ego is linked instead, keeping at most one of
// the pair online.
func (s *BoltStore) CreateAlterEgo(appID, user string) (*types.App, error) {
	var twin *types.App
	err := s.db.Update(func(tx *bolt.Tx) error {
		app, err := loadApp(tx, appID)
		if err != nil {
			return err
		}
		color := colorOf(app)

		twin, err = findAlterEgo(tx, app)
		switch {
		case err == nil:
			twin.BlueGreen.Enabled = true
			twin.BlueGreen.AlterEgoID = app.ID
			if err := s.saveApp(tx, twin); err != nil {
				return err
			}
			app.BlueGreen = &types.BlueGreen{
				Enabled:    true,
				Color:      color,
				IsOnline:   !twin.BlueGreen.IsOnline,
				AlterEgoID: twin.ID,
			}
			return s.saveApp(tx, app)
		case !isNotFound(err):
			return err
		}

		// Deep copy through the stored encoding
		data, err := json.Marshal(app)
		if err != nil {
			return err
		}
		twin = &types.App{}
		if err := json.Unmarshal(data, twin); err != nil {
			return err
		}
		twin.ID = uuid.New().String()
		twin.User = user
		twin.Version = 0
		twin.CreatedAt = s.now()
		twin.BlueGreen = &types.BlueGreen{
			Enabled:    true,
			Color:      color.Opposite(),
			IsOnline:   false,
			AlterEgoID: app.ID,
		}
		// The new record is persisted before the original links to it
		if err := s.saveApp(tx, twin); err != nil {
			return err
		}

		app.BlueGreen = &types.BlueGreen{
			Enabled:    true,
			Color:      color,
			IsOnline:   true,
			AlterEgoID: twin.ID,
		}
		return s.saveApp(tx, app)
	})
	return twin, err
}

// Promote sets targetID online and its alter ego offline. The current state
// is checked first: the target must be offline and its alter ego online,
// anything else returns ErrConflict.
func (s *BoltStore) Promote(targetID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		target, err := loadApp(tx, targetID)
		if err != nil {
			return err
		}
		if target.BlueGreen == nil || !target.BlueGreen.Enabled || target.BlueGreen.AlterEgoID == "" {
			return fmt.Errorf("app %s is not blue/green enabled: %w", targetID, errdefs.ErrConflict)
		}
		alter, err := loadApp(tx, target.BlueGreen.AlterEgoID)
		if err != nil {
			return err
		}
		if alter.BlueGreen == nil {
			return fmt.Errorf("alter ego %s of app %s has no blue/green state: %w", alter.ID, targetID, errdefs.ErrConflict)
		}
		if target.BlueGreen.IsOnline || !alter.BlueGreen.IsOnline {
			return fmt.Errorf("cannot promote %s (online=%t) over %s (online=%t): %w",
				targetID, target.BlueGreen.IsOnline, alter.ID, alter.BlueGreen.IsOnline, errdefs.ErrConflict)
		}

		alter.BlueGreen.IsOnline = false
		alter.BlueGreen.AlterEgoID = target.ID
		if err := s.saveApp(tx, alter); err != nil {
			return err
		}
		target.BlueGreen.IsOnline = true
		target.BlueGreen.AlterEgoID = alter.ID
		return s.saveApp(tx, target)
	})
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, errdefs.ErrNotFound)
}

// Deployment history operations

// AppendDeployment stores a new record. Records are never updated.
func (s *BoltStore) AppendDeployment(rec *types.DeploymentRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployHistories)
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if b.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("deployment %s already recorded", rec.ID)
		}
		if rec.Timestamp == 0 {
			rec.Timestamp = s.now().Unix()
		}
		return putJSON(b, rec.ID, rec)
	})
}

func (s *BoltStore) GetDeployment(id string) (*types.DeploymentRecord, error) {
	var rec types.DeploymentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketDeployHistories), id, &rec)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("deployment %s: %w", id, errdefs.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListDeployments returns the records of an app, oldest first. An empty
// appID lists every record.
func (s *BoltStore) ListDeployments(appID string) ([]*types.DeploymentRecord, error) {
	var recs []*types.DeploymentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployHistories).ForEach(func(k, v []byte) error {
			var rec types.DeploymentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if appID == "" || rec.AppID == appID {
				recs = append(recs, &rec)
			}
			return nil
		})
	})
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp < recs[j].Timestamp })
	return recs, err
}

// Job operations

func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		if job.Status == "" {
			job.Status = types.JobStatusInit
		}
		job.CreatedAt = s.now()
		job.UpdatedAt = job.CreatedAt
		return putJSON(tx.Bucket(bucketJobs), job.ID, job)
	})
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketJobs), id, &job)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("job %s: %w", id, errdefs.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs in creation order, filtered by status unless status
// is empty
func (s *BoltStore) ListJobs(status types.JobStatus) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if status == "" || job.Status == status {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, err
}

// UpdateJobStatus sets the status and message of a job. A terminal status
// is final.
func (s *BoltStore) UpdateJobStatus(id string, status types.JobStatus, message string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		var job types.Job
		ok, err := getJSON(b, id, &job)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("job %s: %w", id, errdefs.ErrNotFound)
		}
		if job.Status.Terminal() {
			return fmt.Errorf("job %s already %s", id, job.Status)
		}
		job.Status = status
		job.Message = message
		job.UpdatedAt = s.now()
		return putJSON(b, id, &job)
	})
}
