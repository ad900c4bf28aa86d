package control

import "github.com/iambrandonn/eswgpio/internal/kernel"

// Group is the worker task group: an ordered, fixed collection of task
// handles whose run/suspend state is controlled as a unit. Membership is
// fixed at startup.
type Group struct {
	members []*kernel.Task
}

// NewGroup builds a group from the given task handles, in order.
func NewGroup(members ...*kernel.Task) *Group {
	return &Group{members: append([]*kernel.Task(nil), members...)}
}

// Len returns the number of members.
func (g *Group) Len() int {
	return len(g.members)
}

// Members returns the member handles in group order.
func (g *Group) Members() []*kernel.Task {
	return append([]*kernel.Task(nil), g.members...)
}

// SuspendAll suspends every member, in group order. The whole group
// transitions together within one control-task wake cycle; it is never
// left partially toggled.
func (g *Group) SuspendAll() {
	for _, m := range g.members {
		m.Suspend()
	}
}

// ResumeAll resumes every member, in the same order as SuspendAll.
func (g *Group) ResumeAll() {
	for _, m := range g.members {
		m.Resume()
	}
}
