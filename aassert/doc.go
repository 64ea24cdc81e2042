// Package aassert provides assertions for records stored with livestore,
// for use with the normal Go testing system.
//
// Use it next to stretchr/testify/assert, the assertions follow its design:
// they report via t, return whether they passed, and take optional msgAndArgs.
//
// # Example
//
//	func TestTodo(t *testing.T) {
//		aassert.MapsSchema(t, todo.Schema, todo.Todo{})
//	}
package aassert
