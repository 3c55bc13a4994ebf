package workers

// workerThread is one of the N WorkerThreads of spec §4.3. It implements
// activity and is driven by Supervisor.runActivity on its own goroutine.
type workerThread struct {
	sup *Supervisor
	id  int
}

func newWorkerThread(sup *Supervisor, id int) *workerThread {
	return &workerThread{sup: sup, id: id}
}

func (w *workerThread) init() error { return nil }

func (w *workerThread) close() {}

// process implements the worker loop body of spec §4.3: pick a runnable
// subpartition, invoke the Task, and pop the record. The worker never
// blocks inside user code on framework locks; PickRunnable already waited
// up to worker.sleep.ms internally, so this call never blocks further.
func (w *workerThread) process() error {
	sub, record, ok := w.sup.qm.PickRunnable(w.sup.cfg.Worker.SleepInterval)
	if !ok {
		return nil
	}

	task, err := w.sup.taskFor(sub)
	if err != nil {
		return err
	}

	observer := newRecordStatusObserver(w.sup, record)
	task.Process(record, observer)
	w.sup.qm.Complete(sub)
	return nil
}
