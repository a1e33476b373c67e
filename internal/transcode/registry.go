package transcode

import (
	"hash/maphash"
	"slices"
	"sync"

	"github.com/jmylchreest/encodr/internal/ffmpeg"
)

const registryShards = 32

type registryShard struct {
	mu   sync.RWMutex
	jobs map[Key][]*TranscodingJob
}

// Registry tracks active jobs. Jobs are sharded by session key so unrelated
// sessions never contend on the same lock; an id index serves direct lookups.
type Registry struct {
	seed   maphash.Seed
	shards [registryShards]*registryShard
	byID   sync.Map // map[string]*TranscodingJob
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{seed: maphash.MakeSeed()}
	for i := range r.shards {
		r.shards[i] = &registryShard{jobs: make(map[Key][]*TranscodingJob)}
	}
	return r
}

func (r *Registry) shard(k Key) *registryShard {
	var h maphash.Hash
	h.SetSeed(r.seed)
	h.WriteString(k.DeviceID)
	h.WriteByte(0)
	h.WriteString(k.PlaySessionID)
	h.WriteByte(0)
	h.WriteString(k.MediaSourceID)
	return r.shards[h.Sum64()%registryShards]
}

// Register adds a job.
func (r *Registry) Register(tj *TranscodingJob) error {
	if _, loaded := r.byID.LoadOrStore(tj.ID, tj); loaded {
		return ErrDuplicateJob
	}
	s := r.shard(tj.Key)
	s.mu.Lock()
	s.jobs[tj.Key] = append(s.jobs[tj.Key], tj)
	s.mu.Unlock()
	return nil
}

// Deregister removes a job. Removing an unknown job is a no-op.
func (r *Registry) Deregister(tj *TranscodingJob) {
	if _, ok := r.byID.LoadAndDelete(tj.ID); !ok {
		return
	}
	s := r.shard(tj.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := slices.DeleteFunc(s.jobs[tj.Key], func(j *TranscodingJob) bool { return j == tj })
	if len(jobs) == 0 {
		delete(s.jobs, tj.Key)
		return
	}
	s.jobs[tj.Key] = jobs
}

// Get returns the most recently registered job for a session key.
func (r *Registry) Get(k Key) (*TranscodingJob, bool) {
	s := r.shard(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := s.jobs[k]
	if len(jobs) == 0 {
		return nil, false
	}
	return jobs[len(jobs)-1], true
}

// GetByID returns the job with the given id.
func (r *Registry) GetByID(id string) (*TranscodingJob, bool) {
	v, ok := r.byID.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*TranscodingJob), true
}

// GetByPath returns the running job writing to path.
func (r *Registry) GetByPath(path string) (*TranscodingJob, bool) {
	var found *TranscodingJob
	r.byID.Range(func(_, v any) bool {
		tj := v.(*TranscodingJob)
		if tj.Path == path && !tj.HasExited() {
			found = tj
			return false
		}
		return true
	})
	return found, found != nil
}

// List returns every registered job ordered by start time.
func (r *Registry) List() []*TranscodingJob {
	var jobs []*TranscodingJob
	r.byID.Range(func(_, v any) bool {
		jobs = append(jobs, v.(*TranscodingJob))
		return true
	})
	slices.SortFunc(jobs, func(a, b *TranscodingJob) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return jobs
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	n := 0
	r.byID.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Kill terminates every job registered under k and returns how many were
// signalled.
func (r *Registry) Kill(k Key) int {
	s := r.shard(k)
	s.mu.RLock()
	jobs := slices.Clone(s.jobs[k])
	s.mu.RUnlock()

	for _, tj := range jobs {
		_ = tj.Kill()
	}
	return len(jobs)
}

// KillByDevice terminates the jobs of a device, limited to one play session
// when playSessionID is set. When deleteFiles approves a job's output path,
// the job's output is removed once the encoder has exited. The killed jobs
// are returned.
func (r *Registry) KillByDevice(deviceID, playSessionID string, deleteFiles func(path string) bool) []*TranscodingJob {
	var matched []*TranscodingJob
	r.byID.Range(func(_, v any) bool {
		tj := v.(*TranscodingJob)
		if tj.Key.DeviceID != deviceID {
			return true
		}
		if playSessionID != "" && tj.Key.PlaySessionID != playSessionID {
			return true
		}
		matched = append(matched, tj)
		return true
	})

	for _, tj := range matched {
		_ = tj.Kill()
		if deleteFiles != nil && deleteFiles(tj.Path) {
			go func(tj *TranscodingJob) {
				<-tj.Done()
				_ = removeOutput(tj.Path, tj.Type)
			}(tj)
		}
	}
	return matched
}

// ReportProgress records progress for a job. Percent and position are
// clamped so observers see non-decreasing values; the stored progress is
// returned.
func (r *Registry) ReportProgress(id string, p ffmpeg.Progress) (ffmpeg.Progress, error) {
	tj, ok := r.GetByID(id)
	if !ok {
		return ffmpeg.Progress{}, ErrJobNotFound
	}
	return tj.applyProgress(p, tj.Job.StartTicks()), nil
}

// ReportConsumption records how far the client has read. Either value may be
// nil when the delivery mode does not know it.
func (r *Registry) ReportConsumption(id string, bytesDownloaded, downloadPositionTicks *int64) error {
	tj, ok := r.GetByID(id)
	if !ok {
		return ErrJobNotFound
	}
	if tj.HasExited() {
		return ErrJobExited
	}
	tj.applyConsumption(bytesDownloaded, downloadPositionTicks)
	return nil
}

// Ping records client activity for a job.
func (r *Registry) Ping(id string) error {
	tj, ok := r.GetByID(id)
	if !ok {
		return ErrJobNotFound
	}
	tj.Ping()
	return nil
}

// ActivePaths returns the output paths of running jobs.
func (r *Registry) ActivePaths() []string {
	var paths []string
	r.byID.Range(func(_, v any) bool {
		if tj := v.(*TranscodingJob); !tj.HasExited() {
			paths = append(paths, tj.Path)
		}
		return true
	})
	return paths
}

// ActiveLogs returns the log paths of registered jobs, exited or not, so
// logs are not archived while the job is still being torn down.
func (r *Registry) ActiveLogs() []string {
	var paths []string
	r.byID.Range(func(_, v any) bool {
		if tj := v.(*TranscodingJob); tj.LogPath != "" {
			paths = append(paths, tj.LogPath)
		}
		return true
	})
	return paths
}
