package config

const (
	// TopicIngestRemote is the NSQ topic for documents fetched from object storage.
	TopicIngestRemote = "ingest.task.remote"

	// ChannelIngest is the consumer channel shared by all API replicas.
	ChannelIngest = "studyrag"
)
