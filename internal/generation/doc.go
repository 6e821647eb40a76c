// Package generation talks to the backend generation endpoints and resumes
// generation after Spotify authorization.
//
// [Client] wraps POST /generate_async, POST /finish_generation, GET /latest_result
// and GET /. [Resumer] has two paths to a result:
//
//   - [Resumer.Immediate] re-submits the prompt once the auth window reported success.
//   - [Resumer.ResumeOnLoad] finishes a prompt the backend kept across a full
//     navigation. It fires at most once per Resumer.
package generation
