// Package influx writes run progress and summaries to InfluxDB. When the
// server is unreachable, points go to a gzipped line-protocol backup file.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/drivelab/copilot-sim/internal/config"
	"github.com/drivelab/copilot-sim/pkg/core"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influx is disabled")

// Measurements written by the simulator.
const (
	MeasurementProgress = "run_progress"
	MeasurementSummary  = "run_summary"
	MeasurementWriter   = "writer_performance"
)

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	backupFile *os.File
	mu         sync.Mutex
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		BucketNames: []string{cfg.Bucket},
		Logger:      log,
		BackupPath:  backupPath,
		cfg:         cfg,
	}
}

// Bucket returns the bucket run points go to.
func (m *Manager) Bucket() string {
	return m.cfg.Bucket
}

// Connect establishes a connection to InfluxDB, or opens the backup file.
func (m *Manager) Connect() error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	running, err := m.Client.Ping(ctx)

	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %w", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBuckets(); err != nil {
		return err
	}
	m.CreateWriters()
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) setupOrganizationAndBuckets() error {
	ctx := context.Background()
	orgName := m.cfg.Org

	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// study data is kept for a year
	for _, bucket := range m.BucketNames {
		if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 365,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		m.Logger.Trace().Str("bucket", bucket).Msg("Creating InfluxDB writer")
		m.Writers[bucket] = m.Client.WriteAPI(m.cfg.Org, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}
	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}

func runTags(p *influxdb2_write.Point, run core.Run) *influxdb2_write.Point {
	return p.
		AddTag("runId", run.RunID).
		AddTag("participantId", run.ParticipantID).
		AddTag("condition", run.Condition).
		AddTag("profile", run.Profile)
}

// ProgressPoint describes the live state of a run.
func ProgressPoint(run core.Run, s core.Snapshot, at time.Time) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementProgress).SetTime(at)
	return runTags(p, run).
		AddTag("phase", s.Phase.String()).
		AddTag("mode", string(s.Vehicle.Mode)).
		AddField("tick", int64(s.Tick)).
		AddField("simTime", s.SimTime).
		AddField("elapsed", s.Elapsed).
		AddField("score", s.Score).
		AddField("obstaclesHit", s.ObstaclesHit).
		AddField("distance", s.Vehicle.Position.Distance).
		AddField("lateral", s.Vehicle.Position.Lateral).
		AddField("velocity", s.Vehicle.Velocity).
		AddField("lane", s.Vehicle.Lane).
		AddField("obstacles", len(s.Obstacles))
}

// SummaryPoint describes a finished run.
func SummaryPoint(run core.Run, rec core.TelemetryRecord, at time.Time) *influxdb2_write.Point {
	manualSeconds := 0
	for _, m := range rec.ModeBySecond {
		if m == core.ModeManual {
			manualSeconds++
		}
	}
	seen := 0
	for _, n := range rec.Notifications {
		if n.Seen {
			seen++
		}
	}
	p := influxdb2_write.NewPointWithMeasurement(MeasurementSummary).SetTime(at)
	return runTags(p, run).
		AddField("completed", rec.Completed).
		AddField("finalScore", rec.FinalScore).
		AddField("obstaclesHit", rec.ObstaclesHit).
		AddField("elapsedSeconds", rec.ElapsedSeconds).
		AddField("manualSeconds", manualSeconds).
		AddField("distance", rec.Distance).
		AddField("ticks", int64(rec.Ticks)).
		AddField("notifications", len(rec.Notifications)).
		AddField("notificationsSeen", seen)
}

// ParseMetric builds a custom point from console arguments:
//
//	<measurement> tag::<name>::<value> field::<string|int|float|bool>::<name>::<value> ...
func ParseMetric(args []string) (*influxdb2_write.Point, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("metric needs a measurement and at least one field")
	}
	point := influxdb2_write.NewPointWithMeasurement(args[0])
	fields := 0

	for _, arg := range args[1:] {
		parts := strings.Split(arg, "::")
		switch {
		case parts[0] == "tag" && len(parts) >= 3:
			point.AddTag(parts[1], parts[2])
		case parts[0] == "field" && len(parts) >= 4:
			fieldType, fieldName, fieldValue := parts[1], parts[2], parts[3]
			switch fieldType {
			case "string":
				point.AddField(fieldName, fieldValue)
			case "int":
				v, err := strconv.Atoi(fieldValue)
				if err != nil {
					return nil, fmt.Errorf("error converting field value '%s' to int: %w", fieldValue, err)
				}
				point.AddField(fieldName, v)
			case "float":
				v, err := strconv.ParseFloat(fieldValue, 64)
				if err != nil {
					return nil, fmt.Errorf("error converting field value '%s' to float: %w", fieldValue, err)
				}
				point.AddField(fieldName, v)
			case "bool":
				v, err := strconv.ParseBool(fieldValue)
				if err != nil {
					return nil, fmt.Errorf("error converting field value '%s' to bool: %w", fieldValue, err)
				}
				point.AddField(fieldName, v)
			default:
				return nil, fmt.Errorf("unknown field type %q", fieldType)
			}
			fields++
		default:
			return nil, fmt.Errorf("unrecognized metric part %q", arg)
		}
	}
	if fields == 0 {
		return nil, fmt.Errorf("metric %s has no fields", args[0])
	}
	point.SetTime(time.Now())
	return point, nil
}
