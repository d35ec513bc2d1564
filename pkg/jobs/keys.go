package jobs

// Keys holds the Redis keys backing one queue.
type Keys struct {
	Waiting   string // ZSET: score priority, member "<seq>:<id>"
	Delayed   string // ZSET: score due time (unix ms), member id
	Active    string // SET of claimed job IDs
	Completed string // ZSET: score finish time (unix ms), member id
	Dead      string // ZSET: score death time (unix ms), member id
	Paused    string // flag key, present while the queue is paused
	Seq       string // counter feeding the FIFO tie-break
	JobPrefix string // prefix of job hashes
}

// KeysForQueue creates the Keys for a named queue.
func KeysForQueue(name string) Keys {
	prefix := "queue:" + name + ":"
	return Keys{
		Waiting:   prefix + "waiting",
		Delayed:   prefix + "delayed",
		Active:    prefix + "active",
		Completed: prefix + "completed",
		Dead:      prefix + "dead",
		Paused:    prefix + "paused",
		Seq:       prefix + "seq",
		JobPrefix: prefix + "job:",
	}
}

// Job returns the hash key of a job.
func (k Keys) Job(id string) string {
	return k.JobPrefix + id
}
