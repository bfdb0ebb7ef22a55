// Package mocks provides gomock implementations of the core ports for tests.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockJobStore(ctrl)
//	store.EXPECT().Get(gomock.Any(), "job-1").Return(job, nil)
package mocks

// Create, Get, Update, Stats
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_store_mock.go github.com/target/cognitriage-api/internal/core JobStore

// Enqueue, Cancel
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_scheduler_mock.go github.com/target/cognitriage-api/internal/core JobScheduler

// Search
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=literature_searcher_mock.go github.com/target/cognitriage-api/internal/core LiteratureSearcher

// Get, Set, Delete
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/cognitriage-api/internal/core CacheRepository
