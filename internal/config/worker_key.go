package config

type WorkerKeyStruct struct {
	NotifyFlagsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	NotifyFlagsQueue: "notify_flags_queue",
}
