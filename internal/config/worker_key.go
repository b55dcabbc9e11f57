package config

type WorkerKeyStruct struct {
	PersistProctorQueue string
	PersistAnswersQueue string
	PersistResultsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProctorQueue: "persist_proctor_queue",
	PersistAnswersQueue: "persist_answers_queue",
	PersistResultsQueue: "persist_results_queue",
}
