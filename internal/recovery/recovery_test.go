package recovery

import "testing"

func TestAttemptsCapAtMaxThenFatal(t *testing.T) {
	p := New()
	for i := 0; i < DefaultMaxAttempts; i++ {
		out := p.Attempt(CaptureOpenTransient)
		if out.Fatal {
			t.Fatalf("attempt %d should not be fatal yet", i)
		}
	}
	if out := p.Attempt(CaptureOpenTransient); !out.Fatal {
		t.Fatal("expected fatal outcome once max attempts exceeded")
	}
}

func TestResetOnSuccessClearsCounter(t *testing.T) {
	p := New()
	p.Attempt(ModelLoadFailed)
	p.Attempt(ModelLoadFailed)
	if p.Attempts(ModelLoadFailed) != 2 {
		t.Fatalf("expected 2 attempts recorded, got %d", p.Attempts(ModelLoadFailed))
	}
	p.ResetOnSuccess(ModelLoadFailed)
	if p.Attempts(ModelLoadFailed) != 0 {
		t.Fatal("expected attempts reset to 0")
	}
}

func TestFaultClassesAreIndependent(t *testing.T) {
	p := New()
	p.Attempt(NoInterfaces)
	p.Attempt(NoInterfaces)
	if p.Attempts(CaptureServiceStopped) != 0 {
		t.Fatal("expected unrelated fault class counter to remain at 0")
	}
}

func TestBackoffEscalates(t *testing.T) {
	p := New()
	first := p.Attempt(CaptureOpenTransient)
	second := p.Attempt(CaptureOpenTransient)
	if second.Backoff <= first.Backoff {
		t.Fatalf("expected escalating backoff, got %v then %v", first.Backoff, second.Backoff)
	}
}

func TestInsufficientPrivilegesIsFatalImmediately(t *testing.T) {
	p := New()
	out := p.Attempt(InsufficientPrivileges)
	if !out.Fatal {
		t.Fatal("expected InsufficientPrivileges to surface fatal on first attempt")
	}
}
