package transport

import "parley/pkg/protocol"

// Key addresses a set of listeners in the dispatch registry. Broadcast keys
// carry only Kind (the raw frame type); scoped keys add the domain and the
// id the event belongs to, giving point-to-point delivery without
// interpolated string names.
type Key struct {
	Domain string
	Scope  string
	Kind   string
}

// BroadcastKey addresses every listener of a frame type regardless of scope.
func BroadcastKey(t protocol.MessageType) Key {
	return Key{Kind: string(t)}
}

// ChatKey addresses listeners of one chat's events of the given kind.
func ChatKey(chatID, kind string) Key {
	return Key{Domain: "chat", Scope: chatID, Kind: kind}
}

// DownloadKey addresses listeners of one download's events.
func DownloadKey(downloadID, kind string) Key {
	return Key{Domain: "download", Scope: downloadID, Kind: kind}
}
