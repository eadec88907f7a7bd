package async

import (
	"database/sql"
)

// jobScanArgs holds the nullable columns of a job row
type jobScanArgs struct {
	ScheduleID     sql.NullInt64
	RunNowPriority sql.NullInt64
	EndTime        sql.NullTime
	LogID          sql.NullInt64
}

// jobSelectColumns is the column list matched by jobScanTargets
const jobSelectColumns = `id, schedule_id, priority, run_now_priority,
		running, status, start_time, end_time,
		log_id, worker_id, paused_filename, tasks`

func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&args.ScheduleID,
		&job.Priority,
		&args.RunNowPriority,
		&job.Running,
		&job.Status,
		&job.StartTime,
		&args.EndTime,
		&args.LogID,
		&job.WorkerID,
		&job.PausedFilename,
		&job.Tasks,
	}
}

func (args *jobScanArgs) apply(job *Job) {
	if args.ScheduleID.Valid {
		id := args.ScheduleID.Int64
		job.ScheduleID = &id
	}
	if args.RunNowPriority.Valid {
		p := int(args.RunNowPriority.Int64)
		job.RunNowPriority = &p
	}
	if args.EndTime.Valid {
		t := args.EndTime.Time
		job.EndTime = &t
	}
	if args.LogID.Valid {
		job.LogID = args.LogID.Int64
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args jobScanArgs
	if err := row.Scan(jobScanTargets(&job, &args)...); err != nil {
		return nil, err
	}
	args.apply(&job)
	return &job, nil
}
