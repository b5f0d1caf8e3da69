// Package mocks provides shared test doubles.
//
// MockJWTService uses function fields and canned results; MockEngine is a
// testify mock:
//
//	engine := new(mocks.MockEngine)
//	engine.On("ClaimTask", mock.Anything, taskID, userID).Return(assignment, nil)
package mocks
