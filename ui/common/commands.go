package common

type SessionState uint

const (
	ComposeView SessionState = iota
	NotesView
	StreamView
	NotificationsView
	FollowActorView
	FollowersView
	FollowingView
	ReloadNotes
)
