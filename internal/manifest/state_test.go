package manifest

import (
	"testing"
)

func TestNewState(t *testing.T) {
	s := NewState()
	if s.Shell != DefaultShell {
		t.Fatalf("shell = %q, want %q", s.Shell, DefaultShell)
	}
	if s.Workdir != "" {
		t.Fatalf("workdir = %q, want empty", s.Workdir)
	}
	if len(s.Env) != 0 {
		t.Fatalf("env = %v, want empty", s.Env)
	}
}

func TestStateApply(t *testing.T) {
	s := NewState()

	s.Apply(Step{Shell: "/bin/bash"})
	if s.Shell != "/bin/bash" {
		t.Fatalf("shell = %q, want /bin/bash", s.Shell)
	}

	s.Apply(Step{Workdir: "/app"})
	if s.Workdir != "/app" {
		t.Fatalf("workdir = %q, want /app", s.Workdir)
	}
	if s.Shell != "/bin/bash" {
		t.Fatalf("shell changed to %q after workdir apply", s.Shell)
	}

	s.Apply(Step{Env: map[string]string{"A": "1", "B": "2"}})
	if s.Env["A"] != "1" || s.Env["B"] != "2" {
		t.Fatalf("env = %v, want A=1 B=2", s.Env)
	}

	s.Apply(Step{Env: map[string]string{"A": "override"}})
	if s.Env["A"] != "override" {
		t.Fatalf("env[A] = %q, want override", s.Env["A"])
	}
	if s.Env["B"] != "2" {
		t.Fatalf("env[B] = %q, want 2 (preserved)", s.Env["B"])
	}
}

func TestStateApplyEmptyFieldsNoOp(t *testing.T) {
	s := NewState()
	s.Apply(Step{Shell: "/bin/zsh", Workdir: "/opt"})
	s.Apply(Step{})
	if s.Shell != "/bin/zsh" {
		t.Fatalf("shell = %q, want /bin/zsh", s.Shell)
	}
	if s.Workdir != "/opt" {
		t.Fatalf("workdir = %q, want /opt", s.Workdir)
	}
}

func TestStateResolve(t *testing.T) {
	s := NewState()
	s.Apply(Step{
		Shell:   "/bin/bash",
		Workdir: "/app",
		Env:     map[string]string{"A": "1"},
	})

	resolved := s.Resolve(Step{
		Shell:   "/bin/zsh",
		Workdir: "/tmp",
		Env:     map[string]string{"B": "2"},
	})

	if resolved.Shell != "/bin/zsh" {
		t.Fatalf("resolved.Shell = %q, want /bin/zsh", resolved.Shell)
	}
	if resolved.Workdir != "/tmp" {
		t.Fatalf("resolved.Workdir = %q, want /tmp", resolved.Workdir)
	}
	if resolved.Env["A"] != "1" || resolved.Env["B"] != "2" {
		t.Fatalf("resolved.Env = %v, want A=1 B=2", resolved.Env)
	}

	// Original state is unchanged.
	if s.Shell != "/bin/bash" {
		t.Fatalf("original shell mutated to %q", s.Shell)
	}
	if s.Workdir != "/app" {
		t.Fatalf("original workdir mutated to %q", s.Workdir)
	}
	if _, ok := s.Env["B"]; ok {
		t.Fatal("original env mutated: B leaked in")
	}
}

func TestStateResolveInheritsState(t *testing.T) {
	s := NewState()
	s.Apply(Step{Shell: "/bin/bash", Workdir: "/app"})

	resolved := s.Resolve(Step{})
	if resolved.Shell != "/bin/bash" {
		t.Fatalf("shell = %q, want /bin/bash", resolved.Shell)
	}
	if resolved.Workdir != "/app" {
		t.Fatalf("workdir = %q, want /app", resolved.Workdir)
	}
}

func TestStateResolveEnvOverride(t *testing.T) {
	s := NewState()
	s.Apply(Step{Env: map[string]string{"K": "base"}})

	resolved := s.Resolve(Step{Env: map[string]string{"K": "override"}})
	if resolved.Env["K"] != "override" {
		t.Fatalf("env[K] = %q, want override", resolved.Env["K"])
	}
	if s.Env["K"] != "base" {
		t.Fatalf("original env[K] mutated to %q", s.Env["K"])
	}
}

func TestStateEnviron(t *testing.T) {
	s := NewState()
	if len(s.Environ()) != 0 {
		t.Fatal("empty state should produce no environ entries")
	}

	s.Apply(Step{Env: map[string]string{"PATH": "/usr/bin", "HOME": "/root"}})
	env := s.Environ()
	if len(env) != 2 {
		t.Fatalf("len(environ) = %d, want 2", len(env))
	}

	if env[0] != "HOME=/root" || env[1] != "PATH=/usr/bin" {
		t.Fatalf("environ = %v, want [HOME=/root PATH=/usr/bin]", env)
	}
}
