package keyfs

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ParallelConfig controls how RotateAll spreads key derivation over
// goroutines. Passphrase KDFs are deliberately slow, so deriving the keys
// of many paths is where a bulk rotation spends its time; the re-encryption
// itself stays serialized under the filesystem lock.
type ParallelConfig struct {
	// MaxWorkers is the maximum number of worker goroutines.
	// If 0, defaults to runtime.NumCPU()
	MaxWorkers int

	// MinPathsForParallel is the minimum number of paths to use parallel
	// derivation. Below this threshold keys are derived sequentially.
	// If 0, defaults to 4
	MinPathsForParallel int
}

// Validate checks if the parallel configuration is valid
func (p *ParallelConfig) Validate() error {
	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinPathsForParallel < 0 {
		return errors.New("parallel min paths threshold cannot be negative")
	}
	if p.MinPathsForParallel > 1000 {
		return errors.New("parallel min paths threshold must not exceed 1000")
	}
	return nil
}

func (p ParallelConfig) workers(jobs int) int {
	n := p.MaxWorkers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > jobs {
		n = jobs
	}
	return n
}

func (p ParallelConfig) threshold() int {
	if p.MinPathsForParallel <= 0 {
		return 4
	}
	return p.MinPathsForParallel
}

// keyJob is one path whose key is being derived.
type keyJob struct {
	path string
	key  []byte
	err  error
}

// deriveKeys runs provider.KeyFor for every path. Failures, panics
// included, are recorded on the job rather than aborting the batch, so the
// caller can act on results in path order. The provider must be safe for
// concurrent use.
func deriveKeys(provider KeyProvider, paths []string, cfg ParallelConfig) []keyJob {
	jobs := make([]keyJob, len(paths))
	for i, p := range paths {
		jobs[i].path = p
	}
	if len(jobs) == 0 {
		return jobs
	}

	if len(jobs) < cfg.threshold() {
		for i := range jobs {
			deriveOne(provider, &jobs[i])
		}
		return jobs
	}

	var wg sync.WaitGroup
	jobChan := make(chan int, len(jobs))
	for i := range jobs {
		jobChan <- i
	}
	close(jobChan)

	for w := 0; w < cfg.workers(len(jobs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobChan {
				deriveOne(provider, &jobs[idx])
			}
		}()
	}
	wg.Wait()
	return jobs
}

func deriveOne(provider KeyProvider, job *keyJob) {
	defer func() {
		if r := recover(); r != nil {
			job.key = nil
			job.err = fmt.Errorf("panic in key derivation: %v", r)
		}
	}()
	job.key, job.err = provider.KeyFor(job.path)
}
