package configfile

import "github.com/gblikas/keyrot"

// ApplyKeys reconciles a running Pool's key set with a freshly reloaded
// File: keys present in f but not yet registered are added, and keys
// registered on the Pool but absent from f are removed. It's meant to be
// wired as a Watcher's ReloadCallback via a small closure, since Pool is
// generic over its caller's response type and ReloadCallback isn't.
//
// Removing a key that's currently in flight is safe; the Pool only stops
// selecting it for future attempts.
func ApplyKeys[R any](p *keyrot.Pool[R], f *File) error {
	cfg := f.ToPoolConfig()

	existing := make(map[string]bool)
	for _, stats := range p.GetAllKeyStats() {
		existing[stats.ID] = true
	}

	want := make(map[string]bool, len(cfg.Keys))
	for _, kc := range cfg.Keys {
		want[kc.ID] = true
		if existing[kc.ID] {
			continue
		}
		if err := p.AddKey(kc); err != nil {
			return err
		}
	}

	for id := range existing {
		if !want[id] {
			if err := p.RemoveKey(id); err != nil {
				return err
			}
		}
	}
	return nil
}
