package leader

import "context"

// StaticLeader always reports leadership. Used with the memory storage
// driver, where there is exactly one instance by construction, and in tests.
type StaticLeader struct{}

func NewStaticLeader() *StaticLeader {
	return &StaticLeader{}
}

func (s *StaticLeader) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	return true, nil
}

func (s *StaticLeader) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	return true, nil
}

func (s *StaticLeader) ReleaseLeadership(ctx context.Context, instanceID string) error {
	return nil
}
