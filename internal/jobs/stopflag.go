package jobs

import "os"

// StopFlag is a file-based drain signal: an external operator (or the
// CLI dashboard this queue was built for) creates the file to ask all
// worker loops in a process to stop claiming new jobs after their
// current one finishes.
type StopFlag struct {
	path string
}

// NewStopFlag returns a StopFlag backed by the given file path.
func NewStopFlag(path string) *StopFlag {
	return &StopFlag{path: path}
}

// Present reports whether the stop file currently exists.
func (f *StopFlag) Present() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Clear removes the stop file if present. Workers call this once at pool
// startup so a stale flag left over from a previous shutdown doesn't
// immediately halt the new run.
func (f *StopFlag) Clear() error {
	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Set creates the stop file, requesting a drain.
func (f *StopFlag) Set() error {
	file, err := os.Create(f.path)
	if err != nil {
		return err
	}
	return file.Close()
}
