package natpmp

import "testing"

func TestMapperWithNoProtocolReportsError(t *testing.T) {
	m := &Mapper{}
	if _, err := m.ExternalAddr(); err == nil {
		t.Fatal("expected error when no gateway protocol was discovered")
	}
	if _, err := m.AddMapping(6881, DefaultLeaseDuration); err == nil {
		t.Fatal("expected error when no gateway protocol was discovered")
	}
}

func TestDeleteMappingNoOpWithoutProtocol(t *testing.T) {
	m := &Mapper{}
	if err := m.DeleteMapping(); err != nil {
		t.Fatalf("expected no-op delete to succeed, got %v", err)
	}
}
