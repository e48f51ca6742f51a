// Package telearm provides teleoperation control for SO-101 robot arms,
// locally or across the network.
//
// A leader arm is moved by hand; its joint positions are mirrored onto
// one or more follower arms, either over a local serial loop or through
// a pub/sub relay when leader and follower are on different machines.
// Arms identify their role electrically: leaders run on a 5V supply,
// followers on 12V.
//
// # Installation
//
//	go install github.com/gwillem/telearm/cmd/telearm@latest
//
// # Usage
//
// First, run setup to detect, identify and calibrate your robot arms:
//
//	telearm setup
//
// Then start local teleoperation:
//
//	telearm teleoperate
//
// Or split the loop across two machines:
//
//	telearm leader    # on the machine with the leader arm
//	telearm follower  # on the machine with the follower arm(s)
//
// Relay credentials are read from PUBNUB_PUBLISH_KEY, PUBNUB_SUBSCRIBE_KEY
// and PUBNUB_USER_ID (a .env file works too); the demo keys are used when
// unset.
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/telearm: CLI with setup, calibrate, teleoperate, leader,
//     follower and monitor commands
//   - pkg/robot: Arm control, role identification, calibration, and
//     configuration
//   - pkg/teleop: Local teleoperation controller and leader→follower
//     mapping
//   - pkg/relay: Network relay clients and transport
package telearm
