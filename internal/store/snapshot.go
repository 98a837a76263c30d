package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
)

// Snapshot files persist the record set only. Facet and token buckets are a
// derived projection and are reprojected on load.
const (
	snapshotMagic   uint32 = 0x4F505150 // "OPQP"
	snapshotVersion uint32 = 1
	snapHeaderSize         = 32
	snapFooterSize         = 8
)

// WriteSnapshot atomically writes the given records into a new snapshot file
// under dataDir. It writes to a .tmp file first and renames on success.
func WriteSnapshot(dataDir string, questions []question.Question) (string, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	name := fmt.Sprintf("store_%d.opsnap", time.Now().UnixNano())
	finalPath := filepath.Join(dataDir, name)
	tmpPath := finalPath + ".tmp"

	sort.Slice(questions, func(i, j int) bool {
		return questions[i].ID < questions[j].ID
	})
	payload, err := json.Marshal(questions)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot payload: %w", err)
	}

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer f.Close()

	header := make([]byte, snapHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], snapshotMagic)
	binary.LittleEndian.PutUint32(header[4:8], snapshotVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(questions)))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(payload)))
	binary.LittleEndian.PutUint64(header[24:32], uint64(time.Now().Unix()))
	if _, err := f.Write(header); err != nil {
		return "", fmt.Errorf("writing snapshot header: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		return "", fmt.Errorf("writing snapshot payload: %w", err)
	}
	footer := make([]byte, snapFooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(payload))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing snapshot footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing snapshot file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming snapshot file: %w", err)
	}
	return finalPath, nil
}

// ReadSnapshot parses and verifies a snapshot file.
func ReadSnapshot(path string) ([]question.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	if len(data) < snapHeaderSize+snapFooterSize {
		return nil, fmt.Errorf("invalid snapshot file: truncated (%d bytes)", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != snapshotMagic {
		return nil, fmt.Errorf("invalid snapshot file: bad magic bytes %x", magic)
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", version)
	}
	payloadSize := binary.LittleEndian.Uint64(data[16:24])
	if uint64(len(data)) != uint64(snapHeaderSize)+payloadSize+uint64(snapFooterSize) {
		return nil, fmt.Errorf("invalid snapshot file: size mismatch")
	}
	payload := data[snapHeaderSize : snapHeaderSize+int(payloadSize)]
	checksum := binary.LittleEndian.Uint32(data[len(data)-snapFooterSize:])
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("invalid snapshot file: checksum mismatch")
	}
	var questions []question.Question
	if err := json.Unmarshal(payload, &questions); err != nil {
		return nil, fmt.Errorf("parsing snapshot payload: %w", err)
	}
	return questions, nil
}

// LatestSnapshot returns the most recent snapshot file under dataDir, or
// false when none exists.
func LatestSnapshot(dataDir string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(dataDir, "store_*.opsnap"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[len(matches)-1], true
}

// Snapshot writes the current record set into dataDir.
func (s *Store) Snapshot(dataDir string) (string, error) {
	questions := make([]question.Question, 0, s.Count())
	s.ForEach(func(q *question.Question) bool {
		questions = append(questions, *q)
		return true
	})
	path, err := WriteSnapshot(dataDir, questions)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.SnapshotsTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		return "", err
	}
	s.logger.Info("snapshot written", "path", path, "questions", len(questions))
	return path, nil
}

// LoadFromSnapshot replaces the in-memory state with a snapshot's records
// and reprojects the facet index.
func (s *Store) LoadFromSnapshot(path string) (int, error) {
	questions, err := ReadSnapshot(path)
	if err != nil {
		return 0, err
	}
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.records = make(map[string]*question.Question)
		sh.facets = make(map[string]map[string]map[string]struct{})
		sh.tokens = make(map[string]map[string]struct{})
		sh.mu.Unlock()
	}
	for i := range questions {
		q := questions[i]
		sh := s.shardFor(q.ID)
		sh.mu.Lock()
		sh.records[q.ID] = &q
		sh.indexLocked(&q)
		sh.mu.Unlock()
	}
	s.generation.Add(1)
	s.logger.Info("store loaded from snapshot", "path", path, "questions", len(questions))
	return len(questions), nil
}
