package models

// DiscoveryEvent reports new items found for a followed source.
type DiscoveryEvent struct {
	SourceID   int64            `json:"source_id"`
	SourceName string           `json:"source_name"`
	Count      int              `json:"count"`
	Items      []DiscoveredItem `json:"items"`
}

// AutoDownloadEvent asks the download pathway to fetch newly discovered items.
// The polling engine only raises it; it never downloads anything itself.
type AutoDownloadEvent struct {
	SourceID   int64            `json:"source_id"`
	SourceName string           `json:"source_name"`
	Quality    string           `json:"quality,omitempty"`
	Format     string           `json:"format,omitempty"`
	FolderPath *string          `json:"folder_path,omitempty"`
	Items      []DiscoveredItem `json:"items"`
}

// ProgressSink receives progress snapshots, in the order the job produced them.
type ProgressSink interface {
	Progress(update ProgressUpdate)
}

// ProgressSinks fans updates out to several sinks.
type ProgressSinks []ProgressSink

func (s ProgressSinks) Progress(update ProgressUpdate) {
	for _, sink := range s {
		sink.Progress(update)
	}
}

// DiscoverySink receives polling results. Implementations must not block.
type DiscoverySink interface {
	Discovery(evt DiscoveryEvent)
	AutoDownload(evt AutoDownloadEvent)
}

// DiscoverySinks fans events out to several sinks.
type DiscoverySinks []DiscoverySink

func (s DiscoverySinks) Discovery(evt DiscoveryEvent) {
	for _, sink := range s {
		sink.Discovery(evt)
	}
}

func (s DiscoverySinks) AutoDownload(evt AutoDownloadEvent) {
	for _, sink := range s {
		sink.AutoDownload(evt)
	}
}
